package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
)

func init() {
	m.Register(func(app core.App) error {
		collection := core.NewBaseCollection("reservations")

		collection.Fields.Add(
			&core.TextField{Name: "tier_id", Required: true},
			&core.TextField{Name: "event_id", Required: true},
			&core.TextField{Name: "session_id", Required: true},
			&core.NumberField{Name: "quantity", OnlyInt: true},
			&core.SelectField{Name: "status", Required: true, MaxSelect: 1,
				Values: []string{"pending", "committed", "released"}},
			// unix seconds, the expiry sweep compares against these
			&core.NumberField{Name: "created_at", OnlyInt: true},
			&core.NumberField{Name: "expires_at", OnlyInt: true},
		)

		collection.AddIndex("idx_reservations_session", false, "session_id, status", "")
		collection.AddIndex("idx_reservations_expiry", false, "status, expires_at", "")

		return app.Save(collection)
	}, func(app core.App) error {
		collection, err := app.FindCollectionByNameOrId("reservations")
		if err != nil {
			return err
		}
		return app.Delete(collection)
	})
}
