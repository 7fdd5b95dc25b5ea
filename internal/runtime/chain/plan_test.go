package chain

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/drblury/phaseflow/internal/runtime/params"
	"github.com/drblury/phaseflow/internal/runtime/phase"
)

func TestNewPlan(t *testing.T) {
	ps := phases(t, map[string][]phase.Descriptor{
		"Security": {
			{Name: "authN", Implementation: "security.authn", Params: params.New("realm", "internal")},
			{Name: "audit", Implementation: "security.audit", Order: phase.Order{First: true}},
		},
	}, "PreDispatch", "Security")

	plan := NewPlan(phase.Inbound, ps)

	assert.Equal(t, "inbound", plan.Flow)
	assert.Len(t, plan.Phases, 2)
	assert.Empty(t, plan.Phases[0].Handlers)
	assert.Equal(t, []string{"audit", "authN"}, plan.HandlerNames())
	assert.Equal(t, "first", plan.Phases[1].Handlers[0].Order)
	assert.Nil(t, plan.Phases[1].Handlers[0].Params)
	assert.Equal(t, "internal", plan.Phases[1].Handlers[1].Params["realm"])
}
