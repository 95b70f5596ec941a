// Package device provides the entry and entity registry for the myStrom
// bridge.
//
// The registry is the persistent catalogue of configured plugs (config
// entries) and the entity IDs handed out for them. Entity IDs are stable:
// once "switch.kitchen" is registered for a unique ID it is returned for
// that unique ID on every later setup, across restarts.
//
// # Architecture
//
//	┌──────────────────────────────────────────────────────────────────┐
//	│                        Entry Registry                            │
//	│                                                                  │
//	│  ┌──────────────────┐    ┌──────────────────┐   ┌─────────────┐  │
//	│  │     Registry     │    │    Repository    │   │ Validation  │  │
//	│  │   (registry.go)  │───▶│  (repository.go) │   │             │  │
//	│  │                  │    │                  │   │ • entries   │  │
//	│  │ • upsert entries │    │ • SQLite queries │   │ • entities  │  │
//	│  │ • entity IDs     │    │ • cascade delete │   │ • object ID │  │
//	│  │ • in-memory cache│    │                  │   │             │  │
//	│  └──────────────────┘    └──────────────────┘   └─────────────┘  │
//	└──────────│───────────────────────│───────────────────────────────┘
//	           ▼                       ▼
//	┌──────────────────────┐   ┌──────────────────────┐
//	│   mystrom.Manager    │   │   SQLite Database    │
//	│   (via EntryStore)   │   │ (entries, entities)  │
//	└──────────────────────┘   └──────────────────────┘
//
// # Usage
//
//	repo := device.NewSQLiteRepository(db.DB)
//	registry := device.NewRegistry(repo)
//	registry.SetLogger(log)
//
//	if err := registry.RefreshCache(ctx); err != nil {
//	    return err
//	}
//
//	entryID, err := registry.SaveEntry(ctx, device.Entry{
//	    UniqueID: "aabbccddeeff",
//	    Host:     "192.168.1.50",
//	    Name:     "Kitchen",
//	})
//
//	entityID, err := registry.RegisterEntity(ctx, device.Entity{
//	    UniqueID: "aabbccddeeff_power",
//	    EntryID:  entryID,
//	    Platform: "sensor",
//	    Name:     "Kitchen Power",
//	}) // "sensor.kitchen_power"
//
// # Thread Safety
//
// The Registry is safe for concurrent use. Reads are served from the cache
// under a read-write mutex; writes are serialised so entity ID allocation
// never hands the same ID to two unique IDs.
package device
