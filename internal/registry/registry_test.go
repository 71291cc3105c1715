// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"forwardkit.dev/smartforward/internal/store"
)

func TestRegistry_InitAndGet(t *testing.T) {
	reg := New()
	reg.Init("web")

	info, ok := reg.Get("web")
	assert.True(t, ok)
	assert.Equal(t, "web", info.Name)
	assert.Empty(t, info.Selected)
}

func TestRegistry_UpdateReportsSwitch(t *testing.T) {
	reg := New()
	reg.Init("web")

	candidates := []store.TargetInfo{{Original: "a:80", Resolved: "10.0.0.1:80", Healthy: true}}
	switched, old, newEndpoint := reg.Update("web", candidates, "10.0.0.1:80")
	assert.True(t, switched)
	assert.Empty(t, old)
	assert.Equal(t, "10.0.0.1:80", newEndpoint)

	switched, old, newEndpoint = reg.Update("web", candidates, "10.0.0.1:80")
	assert.False(t, switched)
	assert.Equal(t, "10.0.0.1:80", old)
	assert.Equal(t, "10.0.0.1:80", newEndpoint)
}

func TestRegistry_UpdateUnknownRuleCreatesEntry(t *testing.T) {
	reg := New()
	switched, old, newEndpoint := reg.Update("ssh", nil, "")
	assert.False(t, switched)
	assert.Empty(t, old)
	assert.Empty(t, newEndpoint)

	_, ok := reg.Get("ssh")
	assert.True(t, ok)
}

func TestRegistry_AllReturnsCopies(t *testing.T) {
	reg := New()
	reg.Init("web")
	reg.Update("web", []store.TargetInfo{{Original: "a:80"}}, "a:80")

	all := reg.All()
	cp := all["web"]
	cp.Candidates[0].Original = "mutated"

	fresh, _ := reg.Get("web")
	assert.Equal(t, "a:80", fresh.Candidates[0].Original)
}
