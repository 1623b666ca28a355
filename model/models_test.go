package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAgeOn(t *testing.T) {
	tests := []struct {
		name string
		dob  Date
		now  time.Time
		want int
	}{
		{"Day Before Birthday", NewDate(1990, time.June, 15), time.Date(2025, time.June, 14, 23, 59, 0, 0, time.UTC), 34},
		{"On Birthday", NewDate(1990, time.June, 15), time.Date(2025, time.June, 15, 0, 0, 0, 0, time.UTC), 35},
		{"Earlier Month", NewDate(1990, time.June, 15), time.Date(2025, time.January, 31, 0, 0, 0, 0, time.UTC), 34},
		{"Later Month", NewDate(1990, time.June, 15), time.Date(2025, time.December, 1, 0, 0, 0, 0, time.UTC), 35},
		{"Leap Day On Feb 28", NewDate(2000, time.February, 29), time.Date(2023, time.February, 28, 12, 0, 0, 0, time.UTC), 22},
		{"Leap Day On Mar 1", NewDate(2000, time.February, 29), time.Date(2023, time.March, 1, 0, 0, 0, 0, time.UTC), 23},
		{"Leap Day In Leap Year", NewDate(2000, time.February, 29), time.Date(2024, time.February, 29, 0, 0, 0, 0, time.UTC), 24},
		{"Born Today", NewDate(2025, time.June, 15), time.Date(2025, time.June, 15, 8, 0, 0, 0, time.UTC), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, AgeOn(tt.dob, tt.now))
		})
	}
}

func TestDateJSON(t *testing.T) {
	t.Run("Round Trip", func(t *testing.T) {
		b, err := json.Marshal(NewDate(1994, time.May, 20))
		require.NoError(t, err)
		assert.Equal(t, `"1994-05-20"`, string(b))

		var d Date
		require.NoError(t, json.Unmarshal(b, &d))
		assert.True(t, NewDate(1994, time.May, 20).Equal(d.Time))
	})

	t.Run("Zero Is Null", func(t *testing.T) {
		b, err := json.Marshal(Date{})
		require.NoError(t, err)
		assert.Equal(t, "null", string(b))
	})

	t.Run("Rejects Other Layouts", func(t *testing.T) {
		var d Date
		assert.Error(t, json.Unmarshal([]byte(`"20/05/1994"`), &d))
		assert.Error(t, json.Unmarshal([]byte(`19940520`), &d))
	})
}
