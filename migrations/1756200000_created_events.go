package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
)

func init() {
	m.Register(func(app core.App) error {
		collection := core.NewBaseCollection("events")

		collection.Fields.Add(
			&core.TextField{Name: "name", Required: true, Max: 255},
			&core.TextField{Name: "venue", Max: 255},
			&core.NumberField{Name: "venue_capacity", OnlyInt: true},
			// unix seconds, written by the API rather than the PB UI
			&core.NumberField{Name: "start_at", OnlyInt: true},
			&core.SelectField{Name: "status", Required: true, MaxSelect: 1,
				Values: []string{"draft", "published", "started", "ended", "cancelled"}},
			// per-event gate tuning, zero means the process default
			&core.NumberField{Name: "max_concurrent_users", OnlyInt: true},
			&core.NumberField{Name: "session_timeout_minutes", OnlyInt: true},
			&core.NumberField{Name: "checkout_timeout_minutes", OnlyInt: true},
			&core.AutodateField{Name: "created", OnCreate: true},
			&core.AutodateField{Name: "updated", OnCreate: true, OnUpdate: true},
		)

		collection.AddIndex("idx_events_status", false, "status", "")

		return app.Save(collection)
	}, func(app core.App) error {
		collection, err := app.FindCollectionByNameOrId("events")
		if err != nil {
			return err
		}
		return app.Delete(collection)
	})
}
