package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestString(t *testing.T) {
	assert.Equal(t, "focusd dev (commit unknown, built unknown)", String("focusd"))
}
