package fabric

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsPersistentSubject(t *testing.T) {
	cases := []struct {
		subject string
		want    bool
	}{
		{"state.order.created", true},
		{"events.order.created", true},
		{"a.persistent.b", true},
		{"_signal.token", false},
		{"system.flow-balance.bottleneck", false},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, IsPersistentSubject(c.subject), c.subject)
	}
}

func TestSubjectForType_DotSeparator(t *testing.T) {
	assert.Equal(t, "events.order.created", SubjectForType("order.created", '.'))
}

func TestSubjectForType_HyphenSeparatorNormalised(t *testing.T) {
	assert.Equal(t, "events.order.created", SubjectForType("order-created", '-'))
}

func TestSubjectForSignal(t *testing.T) {
	assert.Equal(t, "_signal.S1", SubjectForSignal("S1"))
}
