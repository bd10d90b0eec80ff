package metadata

// DefaultMaterialName is the material objects fall back to.
const DefaultMaterialName string = "default"

// MaterialEntry is the default Material.
type MaterialEntry struct {
	Name    string
	cbIndex uint32
	Props   MaterialConstants
}

func NewMaterial(name string, cbIndex uint32, props MaterialConstants) *MaterialEntry {
	return &MaterialEntry{Name: name, cbIndex: cbIndex, Props: props}
}

func (m *MaterialEntry) MaterialCBIndex() uint32 {
	return m.cbIndex
}

func (m *MaterialEntry) Properties() MaterialConstants {
	return m.Props
}
