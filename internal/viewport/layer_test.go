package viewport

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSelectLayer(t *testing.T) {
	tests := []struct {
		zoom float64
		want Layer
	}{
		{10, LayerPoints},
		{12.999, LayerPoints},
		{13.0, LayerPolygons},
		{16.5, LayerPolygons},
		{math.NaN(), LayerPoints},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SelectLayer(tt.zoom, DefaultLayerThreshold), "zoom=%v", tt.zoom)
	}
}

func TestSelectLayer_IsPure(t *testing.T) {
	assert.Equal(t, LayerPolygons, SelectLayer(14, 13))
	assert.Equal(t, LayerPoints, SelectLayer(11, 13))
	assert.Equal(t, LayerPolygons, SelectLayer(14, 13))
}

func TestParseLayer(t *testing.T) {
	l, err := ParseLayer("vacant_properties_tiles_points")
	assert.NoError(t, err)
	assert.Equal(t, LayerPoints, l)
	assert.False(t, l.Detailed())
	assert.True(t, LayerPolygons.Detailed())

	_, err = ParseLayer("roads")
	assert.Error(t, err)
}
