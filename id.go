package herald

import "github.com/xraph/herald/id"

// ID is the primary identifier type for all Herald entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
