package media_test

import (
	"testing"

	"github.com/kiranshivaraju/mediagen/internal/media"
	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		ref  string
		root string
		want media.RefKind
	}{
		{"https://replicate.delivery/abc/out-0.png", "./storage", media.RefRemote},
		{"HTTP://cdn.example.com/x.png", "./storage", media.RefRemote},
		{"/images/a_1.png", "./storage", media.RefServed},
		{"/images/", "./storage", media.RefUnknown},
		{"./storage/generated/a.png", "./storage", media.RefLegacy},
		{"storage/generated/a.png", "./storage", media.RefLegacy},
		{"/data/media/generated/a.png", "/data/media", media.RefLegacy},
		{"/srv/old/generated/a.png", "./storage", media.RefLegacy},
		{`C:\app\storage\generated\a.png`, "./storage", media.RefLegacy},
		{"a.png", "./storage", media.RefUnknown},
		{"", "./storage", media.RefUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, media.Classify(tt.ref, tt.root), "ref=%q", tt.ref)
	}
}

func TestLocalFileName(t *testing.T) {
	name, ok := media.LocalFileName("/images/x.png", "./storage")
	assert.True(t, ok)
	assert.Equal(t, "x.png", name)

	name, ok = media.LocalFileName("./storage/generated/y.png", "./storage")
	assert.True(t, ok)
	assert.Equal(t, "y.png", name)

	_, ok = media.LocalFileName("https://cdn.example.com/z.png", "./storage")
	assert.False(t, ok)
}

func TestServedPath(t *testing.T) {
	assert.Equal(t, "/images/a.png", media.ServedPath("a.png"))
}

func TestRefKindString(t *testing.T) {
	assert.Equal(t, "legacy", media.RefLegacy.String())
	assert.Equal(t, "unknown", media.RefKind(42).String())
}
