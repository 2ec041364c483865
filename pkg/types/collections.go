package types

// Collection names used by the engine.
const (
	SpacesCollection  = "record_spaces"
	RecordsCollection = "records"
	DumpsCollection   = "record_dumps"
)

// CollectionNames lists every collection the engine touches.
var CollectionNames = []string{
	SpacesCollection,
	RecordsCollection,
	DumpsCollection,
}
