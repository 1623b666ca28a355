package main

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

const maxAvatarBytes = 3 << 20

// POST /me/avatar  (multipart form, field name: "file")
func (s *server) uploadAvatarHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		me := userIDFrom(r.Context())

		r.Body = http.MaxBytesReader(w, r.Body, maxAvatarBytes)
		if err := r.ParseMultipartForm(maxAvatarBytes); err != nil {
			writeError(w, http.StatusRequestEntityTooLarge, "file_too_large_or_missing")
			return
		}
		f, _, err := r.FormFile("file")
		if err != nil {
			writeError(w, http.StatusBadRequest, "missing_file")
			return
		}
		defer f.Close()

		// Sniff MIME from the first bytes
		head := make([]byte, 512)
		n, _ := io.ReadFull(f, head)
		if http.DetectContentType(head[:n]) != "image/jpeg" {
			writeError(w, http.StatusBadRequest, "only_jpeg_allowed")
			return
		}
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			writeError(w, http.StatusInternalServerError, "seek_failed")
			return
		}

		if err := os.MkdirAll(s.cfg.AvatarDir, 0o755); err != nil {
			s.log.Error("create avatar dir", "error", err, "dir", s.cfg.AvatarDir)
			writeError(w, http.StatusInternalServerError, "save_failed")
			return
		}

		filename := fmt.Sprintf("%d.jpg", me)
		dst := filepath.Join(s.cfg.AvatarDir, filename)
		if err := writeFileAtomic(dst, f); err != nil {
			s.log.Error("save avatar", "error", err, "user_id", me)
			writeError(w, http.StatusInternalServerError, "save_failed")
			return
		}

		found, err := s.store.SetProfilePicture(r.Context(), me, &filename)
		if err != nil {
			s.log.Error("store avatar name", "error", err, "user_id", me)
			writeError(w, http.StatusInternalServerError, "db_update_failed")
			return
		}
		if !found {
			_ = os.Remove(dst)
			writeError(w, http.StatusConflict, "profile_not_initialized")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "image": filename})
	}
}

// DELETE /me/avatar
func (s *server) removeAvatarHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		me := userIDFrom(r.Context())

		p, found, err := s.store.ProfileByUser(r.Context(), me)
		if err != nil {
			s.log.Error("load profile", "error", err, "user_id", me)
			writeError(w, http.StatusInternalServerError, "remove_failed")
			return
		}
		if !found {
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			return
		}
		if p.ProfilePicture != "" {
			// basename only, so a stored name can never escape the directory
			full := filepath.Join(s.cfg.AvatarDir, filepath.Base(p.ProfilePicture))
			if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
				s.log.Error("remove avatar file", "error", err, "path", full)
				writeError(w, http.StatusInternalServerError, "remove_failed")
				return
			}
		}
		if _, err := s.store.SetProfilePicture(r.Context(), me, nil); err != nil {
			s.log.Error("clear avatar name", "error", err, "user_id", me)
			writeError(w, http.StatusInternalServerError, "remove_failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	}
}

// GET /avatars/{id}
// The image reference shown in match listings.
func (s *server) getAvatarHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := pathID(r)
		if !ok {
			writeError(w, http.StatusNotFound, "not_found")
			return
		}
		p, found, err := s.store.ProfileByUser(r.Context(), userID)
		if err != nil {
			s.log.Error("load profile", "error", err, "user_id", userID)
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
		if !found || strings.TrimSpace(p.ProfilePicture) == "" {
			writeError(w, http.StatusNotFound, "not_found")
			return
		}

		path := filepath.Join(s.cfg.AvatarDir, filepath.Base(p.ProfilePicture))
		if _, err := os.Stat(path); err != nil {
			writeError(w, http.StatusNotFound, "not_found")
			return
		}

		w.Header().Set("Content-Type", "image/jpeg")
		// Light cache - busted in frontend ?ts=timestamp
		w.Header().Set("Cache-Control", "private, max-age=3600")
		http.ServeFile(w, r, path)
	}
}

func writeFileAtomic(dst string, src io.Reader) error {
	tmp := dst + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dst)
}
