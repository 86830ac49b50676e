package vm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestObjectRefValid(t *testing.T) {
	assert.False(t, ObjectRef(0).Valid())
	assert.True(t, ObjectRef(1).Valid())
}
