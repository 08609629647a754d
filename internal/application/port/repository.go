package port

import "context"

// Asset is one catalog entry for a tradable symbol.
type Asset struct {
	Symbol      string
	KoreanName  string
	EnglishName string
	Category    string // "domestic", "foreign", "crypto"
}

// AssetCatalog is the durable asset catalog boundary.
type AssetCatalog interface {
	UpsertAssets(ctx context.Context, assets []Asset) error
	LookupSymbol(ctx context.Context, symbol string) (Asset, error)
	ListSymbolsByCategory(ctx context.Context, category string) ([]string, error)
	Close() error
}

// AlertRecord is one persisted fired-alert row.
type AlertRecord struct {
	ID           int64
	UserEmail    string
	Symbol       string
	TargetPrice  float64
	CurrentPrice float64
	Condition    string
	TriggeredAt  int64 // unix ms
}

// AlertHistory persists and queries fired-alert records.
type AlertHistory interface {
	Insert(ctx context.Context, rec AlertRecord) error
	ListByUser(ctx context.Context, userEmail string) ([]AlertRecord, error)
	Close() error
}
