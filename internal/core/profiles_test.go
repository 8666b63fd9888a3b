package core_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/orrn/slicer/internal/core"
)

func TestDefaultProfiles(t *testing.T) {
	catalog, err := core.NewProfileCatalog(core.DefaultProfiles())
	require.NoError(t, err)

	profiles := catalog.List()
	require.Len(t, profiles, 3)
	require.Equal(t, []string{"standard", "high-quality", "fast-draft"},
		[]string{profiles[0].ID, profiles[1].ID, profiles[2].ID})

	draft, ok := catalog.Get("fast-draft")
	require.True(t, ok)
	require.Equal(t, "Fast Draft", draft.Name)
	require.Equal(t, 0.3, draft.Parameters.LayerHeight)
	require.False(t, draft.Parameters.SupportEnabled)
	require.Equal(t, 4.5, draft.Parameters.RetractionDistanceOr(0))

	def, ok := catalog.Default()
	require.True(t, ok)
	require.Equal(t, "standard", def.ID)
}

func TestProfileCatalogReturnsCopies(t *testing.T) {
	catalog, err := core.NewProfileCatalog(core.DefaultProfiles())
	require.NoError(t, err)

	p, _ := catalog.Get("standard")
	p.Parameters.LayerHeight = 0.05
	*p.Parameters.SupportDensity = 50
	p.Name = "edited"

	again, _ := catalog.Get("standard")
	require.Equal(t, "Standard Quality", again.Name)
	require.Equal(t, 0.2, again.Parameters.LayerHeight)
	require.Equal(t, 15.0, *again.Parameters.SupportDensity)
}

func TestProfileCatalogRejectsBadDefinitions(t *testing.T) {
	defs := core.DefaultProfiles()
	defs[1].ID = defs[0].ID
	_, err := core.NewProfileCatalog(defs)
	require.ErrorContains(t, err, "duplicate")

	defs = core.DefaultProfiles()
	defs[2].Parameters.LayerHeight = f64(2)
	_, err = core.NewProfileCatalog(defs)
	var verr *core.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, core.FieldLayerHeight, verr.Field)

	_, err = core.NewProfileCatalog([]core.ProfileDefinition{{Name: "no id"}})
	require.Error(t, err)
}

func TestProfileCatalogMissing(t *testing.T) {
	catalog, err := core.NewProfileCatalog(nil)
	require.NoError(t, err)

	_, ok := catalog.Get("standard")
	require.False(t, ok)
	_, ok = catalog.Default()
	require.False(t, ok)
	require.Empty(t, catalog.List())
}
