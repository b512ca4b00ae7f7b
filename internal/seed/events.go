// Package seed provides demo events for local runs.
package seed

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/matthewbaird/lifecycle/internal/event"
	"github.com/matthewbaird/lifecycle/internal/store"
	"github.com/matthewbaird/lifecycle/internal/types"
)

// Catalog resolves event types.
type Catalog interface {
	EventType(id string) (types.EventTypeDefinition, bool)
}

type demo struct {
	id       string
	typ      string
	title    string
	dayShift int
	time     string
	users    []types.AssignedUser
	meta     types.Metadata
}

var (
	resident = types.AssignedUser{ID: "demo-resident", Email: "jordan.resident@example.com", Role: types.RoleResident}
	operator = types.AssignedUser{ID: "demo-operator", Email: "sam.operator@example.com", Role: types.RoleOperator}
	prospect = types.AssignedUser{ID: "demo-prospect", Email: "alex.prospect@example.com", Role: types.RoleProspect}
	tech     = types.AssignedUser{ID: "demo-tech", Email: "riley.maintenance@example.com", Role: types.RoleMaintenance}
)

func demos() []demo {
	return []demo{
		{id: "demo-move-in", typ: types.TypeMoveIn, title: "Move-in: Unit 4B", dayShift: 2, time: "10:00",
			users: []types.AssignedUser{resident, operator}, meta: types.Metadata{types.MetaUnit: "4B"}},
		{id: "demo-move-out", typ: types.TypeMoveOut, title: "Move-out: Unit 12A", dayShift: -1, time: "09:00",
			users: []types.AssignedUser{resident, operator}, meta: types.Metadata{types.MetaUnit: "12A"}},
		{id: "demo-tour", typ: types.TypeTour, title: "Tour with Alex", dayShift: 0, time: "16:00",
			users: []types.AssignedUser{operator}, meta: types.Metadata{types.MetaProspectEmail: prospect.Email, types.MetaInterestLevel: "high"}},
		{id: "demo-lease-signing", typ: types.TypeLeaseSigning, title: "Lease signing: Unit 7C", dayShift: -3, time: "14:00",
			users: []types.AssignedUser{resident, operator}, meta: types.Metadata{types.MetaUnit: "7C"}},
		{id: "demo-payment", typ: types.TypePayment, title: "June rent", dayShift: -2,
			users: []types.AssignedUser{resident}, meta: types.Metadata{types.MetaUnit: "4B"}},
		{id: "demo-work-order", typ: types.TypeWorkOrder, title: "Leaking faucet", dayShift: -4, time: "11:00",
			users: []types.AssignedUser{resident, tech}, meta: types.Metadata{types.MetaUnit: "9D"}},
		{id: "demo-inspection", typ: types.TypeInspection, title: "Annual inspection: Building B", dayShift: -1, time: "13:00",
			users: []types.AssignedUser{operator}, meta: types.Metadata{types.MetaBuilding: "B"}},
		{id: "demo-amenity", typ: types.TypeAmenityReservation, title: "Clubhouse reservation", dayShift: 1, time: "18:00",
			users: []types.AssignedUser{resident}, meta: types.Metadata{types.MetaFeeRequired: true}},
		{id: "demo-community", typ: types.TypeCommunityEvent, title: "Rooftop mixer", dayShift: 1, time: "19:00",
			users: []types.AssignedUser{operator}, meta: types.Metadata{types.MetaRSVPCount: 2}},
	}
}

// Events builds one demo event of every catalog type, scheduled around now.
func Events(catalog Catalog, now time.Time) ([]*types.Event, error) {
	var out []*types.Event
	for _, d := range demos() {
		def, ok := catalog.EventType(d.typ)
		if !ok {
			return nil, fmt.Errorf("seeding %s: unknown event type %q", d.id, d.typ)
		}
		ev, err := event.New(def, event.Params{
			ID:            d.id,
			Title:         d.title,
			Date:          now.AddDate(0, 0, d.dayShift).Format(types.DateLayout),
			Time:          d.time,
			AssignedUsers: d.users,
			Metadata:      d.meta,
		}, now.Add(-72*time.Hour))
		if err != nil {
			return nil, fmt.Errorf("seeding %s: %w", d.id, err)
		}
		out = append(out, ev)
	}
	return out, nil
}

// Seed saves the demo events unless they are already present.
func Seed(ctx context.Context, catalog Catalog, events store.EventStore, now time.Time, logger *zap.Logger) error {
	evs, err := Events(catalog, now)
	if err != nil {
		return err
	}
	created := 0
	for _, ev := range evs {
		if _, err := events.Get(ctx, ev.ID); err == nil {
			continue
		}
		if err := events.Save(ctx, ev); err != nil {
			return fmt.Errorf("saving %s: %w", ev.ID, err)
		}
		created++
	}
	logger.Named("seed").Info("demo_events_seeded", zap.Int("created", created), zap.Int("total", len(evs)))
	return nil
}
