package hadevice

import (
	"fmt"

	"github.com/hahn-schickard/modbus-technology-adapter/pkg/model"
)

// HADeviceBuilder accumulates one Device's element tree. The DeviceBuilder
// contract hands back an opaque groupID from AddDeviceElementGroup with no
// parent linkage, so a builder can only bucket readables under the group
// that created their groupID; it builds a one-level tree of groups under an
// unnamed root rather than reconstructing arbitrary nesting.
type HADeviceBuilder struct {
	id, name, description string
	order                 []*model.Group
	groups                map[string]*model.Group
	rootReadables         []model.Readable
	seq                   int
}

// NewHADeviceBuilder returns a fresh builder. A new one must be created per
// device; GetResult is called once.
func NewHADeviceBuilder() *HADeviceBuilder {
	return &HADeviceBuilder{groups: make(map[string]*model.Group)}
}

func (b *HADeviceBuilder) BuildDeviceBase(id, name, description string) {
	b.id, b.name, b.description = id, name, description
}

func (b *HADeviceBuilder) AddDeviceElementGroup(name, description string) string {
	b.seq++
	groupID := fmt.Sprintf("g%d", b.seq)
	g := &model.Group{Name: name, Description: description}
	b.order = append(b.order, g)
	b.groups[groupID] = g
	return groupID
}

func (b *HADeviceBuilder) AddReadableMetric(groupID, name, description string, dataType model.DataType, read model.ReadFunc) string {
	b.seq++
	elementID := fmt.Sprintf("e%d", b.seq)
	readable := model.Readable{Name: name, Description: description, Type: dataType, Read: read}
	if g, ok := b.groups[groupID]; ok {
		g.Readables = append(g.Readables, readable)
	} else {
		b.rootReadables = append(b.rootReadables, readable)
	}
	return elementID
}

func (b *HADeviceBuilder) GetResult() (model.Device, error) {
	root := model.Group{Readables: b.rootReadables}
	for _, g := range b.order {
		root.Groups = append(root.Groups, *g)
	}
	return model.Device{ID: b.id, Name: b.name, Description: b.description, Root: root}, nil
}

var _ model.DeviceBuilder = (*HADeviceBuilder)(nil)
