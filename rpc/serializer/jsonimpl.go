package serializer

import (
	"encoding/json"
	"github.com/ValentinKolb/kvlog/rpc/common"
)

// NewJSONSerializer creates a new serializer using json encoding
func NewJSONSerializer() IRPCSerializer {
	return &jsonSerializerImpl{}
}

// jsonSerializerImpl implements the IRPCSerializer interface using json encoding.
//
// Entries keep their null semantics: a nil Value is written as null and an
// empty Value as "", which decode back to nil and []byte{}. Key and Version
// are pointers and are left out when null. A no-op entry and an empty append
// therefore stay different on the wire, as with the binary serializer.
type jsonSerializerImpl struct{}

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

func (j jsonSerializerImpl) Serialize(msg common.Message) ([]byte, error) {
	return json.Marshal(msg)
}

func (j jsonSerializerImpl) Deserialize(b []byte, msg *common.Message) error {
	return json.Unmarshal(b, msg)
}
