package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVersion(t *testing.T) {
	tests := []struct {
		in      string
		want    Version
		wantErr bool
	}{
		{"1.2.3", Version{1, 2, 3}, false},
		{"2", Version{2, 0, 0}, false},
		{"2.5", Version{2, 5, 0}, false},
		{"", Version{}, true},
		{"1.2.3.4", Version{}, true},
		{"1.x.3", Version{}, true},
		{"-1.0.0", Version{}, true},
	}
	for _, tt := range tests {
		got, err := ParseVersion(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestVersionOrder(t *testing.T) {
	v := func(s string) Version {
		out, err := ParseVersion(s)
		require.NoError(t, err)
		return out
	}
	assert.True(t, v("1.0.1").Newer(v("1.0.0")))
	assert.True(t, v("1.1.0").Newer(v("1.0.9")))
	assert.True(t, v("2.0.0").Newer(v("1.9.9")))
	assert.False(t, v("1.0.0").Newer(v("1.0.0")))
	assert.Equal(t, 0, v("3.1.4").Compare(v("3.1.4")))
	assert.Equal(t, -1, v("3.1.3").Compare(v("3.1.4")))
}

func TestVersionBump(t *testing.T) {
	base := Version{Major: 3, Minor: 2, Internal: 7}
	assert.Equal(t, Version{Major: 3, Minor: 3}, base.Bump(LevelMinor))
	assert.Equal(t, Version{Major: 4}, base.Bump(LevelMajor))
	assert.Equal(t, Version{Major: 3, Minor: 2, Internal: 8}, base.Bump(LevelNone))
}

func TestParseLevel(t *testing.T) {
	l, err := ParseLevel("minor")
	require.NoError(t, err)
	assert.Equal(t, LevelMinor, l)

	l, err = ParseLevel("")
	require.NoError(t, err)
	assert.Equal(t, LevelNone, l)

	_, err = ParseLevel("huge")
	assert.Error(t, err)
}
