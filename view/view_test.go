package view

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleettrackr/auth"
	"fleettrackr/renewal"
)

var (
	owner = renewal.Actor{ID: "o1", Role: auth.RoleOwner}
	agent = renewal.Actor{ID: "a1", Role: auth.RoleAgent}
	admin = renewal.Actor{ID: "root", Role: auth.RoleAdmin}
)

func sample(status renewal.Status) renewal.Request {
	return renewal.Request{
		ID:       "r1",
		Type:     renewal.TypeUserToAgent,
		Status:   status,
		OwnerRef: "o1",
		AgentRef: "a1",
		OwnerAsk: &renewal.OwnerAsk{ExpectedAmount: 5000, CoverType: "comprehensive"},
		Owner: renewal.Contact{
			Name:    "Ravi",
			Phone:   "9990001111",
			Email:   "ravi@example.com",
			Address: "12 MG Road",
		},
	}
}

func TestProject_ContactVisibilityForAgent(t *testing.T) {
	tests := map[renewal.Status]bool{
		renewal.StatusPending:   false,
		renewal.StatusOfferSent: false,
		renewal.StatusRejected:  false,
		renewal.StatusAccepted:  true,
		renewal.StatusCompleted: true,
	}
	for status, visible := range tests {
		v := Project(agent, sample(status), false)
		assert.Equal(t, visible, v.ContactVisible, status)
		if visible {
			assert.Equal(t, "9990001111", v.Request.Owner.Phone, status)
			assert.Equal(t, "12 MG Road", v.Request.Owner.Address, status)
		} else {
			assert.Empty(t, v.Request.Owner.Phone, status)
			assert.Empty(t, v.Request.Owner.Email, status)
			assert.Empty(t, v.Request.Owner.Address, status)
		}
		assert.Equal(t, "Ravi", v.Request.Owner.Name, "name stays visible")
	}
}

func TestProject_OwnerAndAdminSeeContact(t *testing.T) {
	assert.Equal(t, "9990001111", Project(owner, sample(renewal.StatusPending), false).Request.Owner.Phone)
	assert.Equal(t, "9990001111", Project(admin, sample(renewal.StatusPending), false).Request.Owner.Phone)

	otherAgent := renewal.Actor{ID: "a2", Role: auth.RoleAgent}
	assert.Empty(t, Project(otherAgent, sample(renewal.StatusAccepted), false).Request.Owner.Phone)
}

func TestProject_DoesNotMutateInput(t *testing.T) {
	req := sample(renewal.StatusPending)
	v := Project(agent, req, false)
	v.Request.OwnerAsk.ExpectedAmount = 1

	assert.Equal(t, "9990001111", req.Owner.Phone)
	assert.Equal(t, 5000.0, req.OwnerAsk.ExpectedAmount)
}

func TestProject_Actions(t *testing.T) {
	v := Project(agent, sample(renewal.StatusPending), false)
	assert.Equal(t, []renewal.Action{renewal.ActionSendOffer, renewal.ActionDecline}, v.Actions)

	v = Project(owner, sample(renewal.StatusOfferSent), false)
	assert.Equal(t, []renewal.Action{renewal.ActionAcceptOffer, renewal.ActionRejectOffer}, v.Actions)

	v = Project(owner, sample(renewal.StatusPending), false)
	assert.Empty(t, v.Actions, "owner waits for the agent on a pending user request")

	v = Project(admin, sample(renewal.StatusAccepted), false)
	assert.Empty(t, v.Actions)

	v = Project(agent, sample(renewal.StatusPending), true)
	assert.True(t, v.Busy)
	assert.Empty(t, v.Actions, "busy requests offer no actions")
}

func TestProjectAll(t *testing.T) {
	list := []renewal.Request{sample(renewal.StatusPending), sample(renewal.StatusAccepted)}
	list[1].ID = "r2"

	views := ProjectAll(agent, list, func(id string) bool { return id == "r2" })
	require.Len(t, views, 2)
	assert.False(t, views[0].Busy)
	assert.True(t, views[1].Busy)
}

func TestSummarizeAndFilter(t *testing.T) {
	list := []renewal.Request{
		sample(renewal.StatusPending),
		sample(renewal.StatusPending),
		sample(renewal.StatusOfferSent),
		sample(renewal.StatusCompleted),
	}
	s := Summarize(list)
	assert.Equal(t, Summary{Total: 4, Pending: 2, OfferSent: 1, Completed: 1}, s)

	assert.Len(t, Filter(list, renewal.StatusPending), 2)
	assert.Len(t, Filter(list, ""), 4)
	assert.Empty(t, Filter(list, renewal.StatusRejected))
}
