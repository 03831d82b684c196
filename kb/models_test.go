package kb

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSlugify(t *testing.T) {
	assert.Equal(t, "my-collection", Slugify("My Collection"))
	assert.Equal(t, "hello-world", Slugify("  Hello,   World!  "))
	assert.Equal(t, "already-a-slug", Slugify("already-a-slug"))
	assert.Equal(t, "v2-release-notes", Slugify("V2 Release/Notes"))
	assert.Equal(t, "", Slugify("!!!"))
}
