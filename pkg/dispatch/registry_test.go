package dispatch

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/FreePeak/db-dispatch-server/pkg/errors"
)

func noop(ctx context.Context, args Args) (interface{}, error) { return nil, nil }

func sampleNamespace() *Namespace {
	return &Namespace{
		Path:        "modules.database.mongoClient",
		Description: "Document store",
		Aliases:     []string{"modules.database.mongoDB"},
		Methods: []*Method{
			{Name: "insert_one", Handler: noop, Params: []Param{
				{Name: "cname", Type: TypeString, Required: true},
				{Name: "document", Type: TypeObject, Required: true},
			}},
			{Name: "find_one", Handler: noop, Params: []Param{
				{Name: "cname", Type: TypeString, Required: true},
				{Name: "query", Type: TypeObject, Required: true},
				{Name: "projection", Type: TypeObject},
			}},
		},
	}
}

func TestRegistryLookup(t *testing.T) {
	reg, err := NewRegistry(sampleNamespace())
	require.NoError(t, err)

	m, err := reg.Lookup("modules.database.mongoClient", "find_one")
	require.NoError(t, err)
	assert.Equal(t, "find_one", m.Name)

	alias, err := reg.Lookup("modules.database.mongoDB", "find_one")
	require.NoError(t, err)
	assert.Same(t, m, alias)

	_, err = reg.Lookup("os", "system")
	assert.Equal(t, apperrors.UnknownModule, apperrors.KindOf(err))

	_, err = reg.Lookup("modules.database.mongoClient", "__init__")
	assert.Equal(t, apperrors.UnknownMethod, apperrors.KindOf(err))
}

func TestRegistryRejectsBadDeclarations(t *testing.T) {
	tests := []struct {
		name string
		ns   *Namespace
	}{
		{"empty path", &Namespace{}},
		{"nil handler", &Namespace{Path: "a", Methods: []*Method{{Name: "m"}}}},
		{"duplicate method", &Namespace{Path: "a", Methods: []*Method{
			{Name: "m", Handler: noop}, {Name: "m", Handler: noop},
		}}},
		{"duplicate param", &Namespace{Path: "a", Methods: []*Method{{Name: "m", Handler: noop, Params: []Param{
			{Name: "x", Type: TypeString}, {Name: "x", Type: TypeString},
		}}}}},
		{"required with default", &Namespace{Path: "a", Methods: []*Method{{Name: "m", Handler: noop, Params: []Param{
			{Name: "x", Type: TypeString, Required: true, Default: "y"},
		}}}}},
		{"default of wrong type", &Namespace{Path: "a", Methods: []*Method{{Name: "m", Handler: noop, Params: []Param{
			{Name: "x", Type: TypeInteger, Default: "ten"},
		}}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRegistry(tt.ns)
			assert.Error(t, err)
		})
	}

	_, err := NewRegistry(sampleNamespace(), &Namespace{Path: "modules.database.mongoDB"})
	assert.Error(t, err, "alias collides with a path")
}

func TestRegistryList(t *testing.T) {
	var reg *Registry
	reg, err := NewRegistry(sampleNamespace(), RegistryNamespace(func() *Registry { return reg }))
	require.NoError(t, err)

	want := []NamespaceInfo{
		{
			Path:        "modules.database.mongoClient",
			Description: "Document store",
			Aliases:     []string{"modules.database.mongoDB"},
			Methods: []MethodInfo{
				{Name: "find_one", Params: []Param{
					{Name: "cname", Type: TypeString, Required: true},
					{Name: "query", Type: TypeObject, Required: true},
					{Name: "projection", Type: TypeObject},
				}},
				{Name: "insert_one", Params: []Param{
					{Name: "cname", Type: TypeString, Required: true},
					{Name: "document", Type: TypeObject, Required: true},
				}},
			},
		},
		{
			Path:        "modules.system.registry",
			Description: "Introspection of the registered modules",
			Methods: []MethodInfo{
				{Name: "list_modules", Description: "List every module, its methods and their parameters", Params: []Param{
					{Name: "module_name", Type: TypeString, Description: "Only describe this module"},
				}},
			},
		},
	}
	if diff := cmp.Diff(want, reg.List()); diff != "" {
		t.Errorf("List() mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []string{"modules.database.mongoClient", "modules.system.registry"}, reg.Paths())
}

func TestListModulesMethod(t *testing.T) {
	var reg *Registry
	reg, err := NewRegistry(sampleNamespace(), RegistryNamespace(func() *Registry { return reg }))
	require.NoError(t, err)

	m, err := reg.Lookup("modules.system.registry", "list_modules")
	require.NoError(t, err)

	all, err := m.Handler(context.Background(), Args{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	one, err := m.Handler(context.Background(), Args{"module_name": "modules.database.mongoDB"})
	require.NoError(t, err)
	require.Len(t, one, 1)
	assert.Equal(t, "modules.database.mongoClient", one.([]NamespaceInfo)[0].Path)

	_, err = m.Handler(context.Background(), Args{"module_name": "nope"})
	assert.Equal(t, apperrors.UnknownModule, apperrors.KindOf(err))
}
