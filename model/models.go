package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gitea.kood.tech/petrkubec/matrimony/backend/geo"
)

// DateLayout is the wire format of calendar dates (date_of_birth).
const DateLayout = "2006-01-02"

// Profile creators accepted at registration.
var CreatedByChoices = []string{"self", "parent", "sibling", "relative", "friend"}

// Genders accepted at registration.
var GenderChoices = []string{"male", "female"}

// User is an authenticated account. Profiles and preferences hang off it.
type User struct {
	ID        int        `json:"id"`
	Username  string     `json:"username"`
	Email     string     `json:"email"`
	FirstName string     `json:"first_name"`
	LastName  string     `json:"last_name"`
	CreatedAt time.Time  `json:"created_at"`
	LastLogin *time.Time `json:"last_login,omitempty"`
}

// Profile holds the self-reported attributes of one user. Height, weight and
// coordinates are optional; a missing value never matches a preference.
type Profile struct {
	ID              int       `json:"id"`
	UserID          int       `json:"user"`
	CreatedBy       string    `json:"created_by"`
	Gender          string    `json:"gender"`
	Name            string    `json:"name"`
	DateOfBirth     Date      `json:"date_of_birth"`
	Email           string    `json:"email"`
	Height          *float64  `json:"height"`
	Age             int       `json:"age"`
	Weight          *float64  `json:"weight"`
	Education       string    `json:"education"`
	Country         string    `json:"country"`
	Address         string    `json:"address"`
	PhoneNumber     string    `json:"phone_number"`
	HidePhoneNumber bool      `json:"hide_phone_number"`
	Language        string    `json:"language"`
	Religion        string    `json:"religion"`
	Latitude        *float64  `json:"latitude"`
	Longitude       *float64  `json:"longitude"`
	Location        string    `json:"location"`
	ProfilePicture  string    `json:"profile_picture,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Point returns the profile's coordinates, or false when either is unset.
func (p Profile) Point() (geo.Point, bool) {
	if p.Latitude == nil || p.Longitude == nil {
		return geo.Point{}, false
	}
	return geo.Point{Lat: *p.Latitude, Lon: *p.Longitude}, true
}

// Card is the display subset used in match listings.
func (p Profile) Card() ProfileCard {
	return ProfileCard{UserID: p.UserID, Name: p.Name, Image: p.ProfilePicture}
}

// Redacted returns a copy safe to show to someone other than the owner.
func (p Profile) Redacted() Profile {
	if p.HidePhoneNumber {
		p.PhoneNumber = ""
	}
	return p
}

// Preference is a user's desired partner criteria. Every field is optional:
// a range is only evaluated when both of its bounds are set.
type Preference struct {
	UserID    int       `json:"user"`
	Email     *string   `json:"email"`
	HeightMin *float64  `json:"preferred_height_min"`
	HeightMax *float64  `json:"preferred_height_max"`
	AgeMin    *int      `json:"preferred_age_min"`
	AgeMax    *int      `json:"preferred_age_max"`
	WeightMin *float64  `json:"preferred_weight_min"`
	WeightMax *float64  `json:"preferred_weight_max"`
	Education *string   `json:"preferred_education"`
	Location  *string   `json:"preferred_location"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MatchRecord is a persisted percentage-mode result. It is derived data and
// can be regenerated from profiles and preferences at any time.
type MatchRecord struct {
	ID              int64     `json:"id"`
	UserID          int       `json:"user_id"`
	MatchedUserID   int       `json:"matched_user_id"`
	MatchPercentage float64   `json:"match_percentage"`
	CreatedAt       time.Time `json:"created_at"`
}

// ProfileCard is what a listing shows about another user.
type ProfileCard struct {
	UserID int    `json:"user_id"`
	Name   string `json:"name"`
	Image  string `json:"image,omitempty"`
}

// Date is a calendar date serialised as YYYY-MM-DD.
type Date struct {
	time.Time
}

func NewDate(y int, m time.Month, d int) Date {
	return Date{time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: expected %s", s, DateLayout)
	}
	return Date{t}, nil
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(DateLayout)
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.Format(DateLayout))
}

func (d *Date) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*d = Date{}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("date must be a string: %w", err)
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// AgeOn returns the completed years between the birth date and now.
func AgeOn(dob Date, now time.Time) int {
	age := now.Year() - dob.Year()
	if now.Month() < dob.Month() || (now.Month() == dob.Month() && now.Day() < dob.Day()) {
		age--
	}
	return age
}
