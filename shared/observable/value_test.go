package observable

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValue_NotifiesOnReplacement(t *testing.T) {
	v := New(1)

	var seen []int
	sub := v.Watch(func(n int) { seen = append(seen, n) })

	v.Set(2)
	v.Update(func(n int) int { return n * 10 })
	sub.Unsubscribe()
	v.Set(99)

	assert.Equal(t, []int{2, 20}, seen)
	assert.Equal(t, 99, v.Get())
}

func TestValue_WatcherCanReadDuringNotify(t *testing.T) {
	v := New("a")

	var observed string
	v.Watch(func(string) { observed = v.Get() })
	v.Set("b")

	assert.Equal(t, "b", observed)
}
