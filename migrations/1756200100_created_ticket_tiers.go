package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
)

func init() {
	m.Register(func(app core.App) error {
		collection := core.NewBaseCollection("ticket_tiers")

		collection.Fields.Add(
			&core.TextField{Name: "event_id", Required: true},
			&core.TextField{Name: "name", Required: true, Max: 255},
			&core.NumberField{Name: "price"},
			&core.NumberField{Name: "order_index", OnlyInt: true},
			&core.NumberField{Name: "total_tickets", OnlyInt: true},
			// total = available + reserved + sold, enforced by the ledger
			&core.NumberField{Name: "available_inventory", OnlyInt: true},
			&core.NumberField{Name: "reserved_inventory", OnlyInt: true},
			&core.NumberField{Name: "sold_inventory", OnlyInt: true},
			&core.BoolField{Name: "is_active"},
			&core.BoolField{Name: "hide_until_previous_sold_out"},
			&core.AutodateField{Name: "created", OnCreate: true},
			&core.AutodateField{Name: "updated", OnCreate: true, OnUpdate: true},
		)

		collection.AddIndex("idx_ticket_tiers_event", false, "event_id", "")
		collection.AddIndex("idx_ticket_tiers_event_order", true, "event_id, order_index", "")

		return app.Save(collection)
	}, func(app core.App) error {
		collection, err := app.FindCollectionByNameOrId("ticket_tiers")
		if err != nil {
			return err
		}
		return app.Delete(collection)
	})
}
