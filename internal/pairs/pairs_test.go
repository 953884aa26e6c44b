package pairs

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadCSV(t *testing.T) {
	raw := strings.Join([]string{
		"crypto1,crypto2,p_value,HR,spread_mean,spread_std,categories",
		"sand,MANA,0.01,1.12,-0.35,0.042,Metaverse",
		"AXS,GALA,0.03,0.87,0.11,0.051,Gaming",
	}, "\n")
	got, err := ReadCSV(strings.NewReader(raw))
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "SAND", got[0].Crypto1)
	assert.Equal(t, "SAND_MANA", got[0].Name())
	assert.Equal(t, "SANDUSDT", got[0].SymbolA("USDT"))
	assert.InDelta(t, 1.12, got[0].Params.HedgeRatio, 1e-12)
	assert.InDelta(t, -0.35, got[0].Params.Mean, 1e-12)
	assert.InDelta(t, 0.042, got[0].Params.Std, 1e-12)
	assert.Equal(t, "Gaming", got[1].Category)
}

func TestReadCSVErrors(t *testing.T) {
	_, err := ReadCSV(strings.NewReader("crypto1,crypto2,HR\nA,B,1\n"))
	require.Error(t, err)

	_, err = ReadCSV(strings.NewReader("crypto1,crypto2,HR,spread_mean,spread_std\nA,B,x,0,1\n"))
	require.ErrorContains(t, err, "line 2")
}

func TestLoadCSVAndPricePath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "coint_pairs.csv")
	require.NoError(t, os.WriteFile(path, []byte("crypto1,crypto2,HR,spread_mean,spread_std\nBTC,ETH,0.9,0.1,0.02\n"), 0o644))

	got, err := LoadCSV(path)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Empty(t, got[0].Category)

	assert.Equal(t, filepath.Join("data", "BTC_USDT_15m.csv"), PricePath("data", "btc", "15m"))
}
