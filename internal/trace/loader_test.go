package trace

import (
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	in := "time,id,x,y,speed\n" +
		"0.0,veh1,1.5,2,13.9\n" +
		"\n" +
		" 0.1 , veh0 , -3 , 4e2 , 0 \n" +
		"0.2,veh1,1,1,1,extra,fields\n"

	got, err := Parse(strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, []Sample{
		{Time: 0, Token: "veh1", X: 1.5, Y: 2, Speed: 13.9},
		{Time: 0.1, Token: "veh0", X: -3, Y: 400, Speed: 0},
		{Time: 0.2, Token: "veh1", X: 1, Y: 1, Speed: 1},
	}, got)
}

func TestParseKeepsFileOrder(t *testing.T) {
	in := "h\n5,a,0,0,0\n1,a,1,0,0\n5,b,2,0,0\n"
	got, err := Parse(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []float64{5, 1, 5}, []float64{got[0].Time, got[1].Time, got[2].Time})
}

func TestParseHeaderOnly(t *testing.T) {
	got, err := Parse(strings.NewReader("time,id,x,y,speed\n"))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestParseErrors(t *testing.T) {
	cases := []struct {
		name string
		row  string
		want string
	}{
		{"too few fields", "0.0,a,1,2", "line 2"},
		{"bad time", "zero,a,1,2,3", "column time"},
		{"bad x", "0,a,one,2,3", "column x"},
		{"bad speed", "0,a,1,2,", "column speed"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader("header\n" + tc.row + "\n"))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}

	_, err := Parse(strings.NewReader("header\n1,a,2\n"))
	assert.ErrorIs(t, err, ErrFieldCount)

	_, err = Parse(strings.NewReader("header\n1,a,x,0,0\n"))
	var numErr *strconv.NumError
	assert.ErrorAs(t, err, &numErr)
}

func TestParseRejectsNonFinite(t *testing.T) {
	cases := []struct {
		name string
		row  string
		want string
	}{
		{"nan x", "0,b,NaN,0,0", "column x"},
		{"nan time", "NaN,b,5000,0,0", "column time"},
		{"inf y", "0,b,0,Inf,0", "column y"},
		{"signed inf speed", "0,b,0,0,+Inf", "column speed"},
		{"negative inf time", "-inf,b,0,0,0", "column time"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader("header\n0,a,0,0,0\n" + tc.row + "\n"))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrNonFinite)
			assert.Contains(t, err.Error(), "line 3")
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fcd.csv")
	require.NoError(t, os.WriteFile(path, []byte("t,v,x,y,s\n0,a,0,0,0\n0,b,100,0,0\n"), 0o644))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	_, err = Load(filepath.Join(t.TempDir(), "missing.csv"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestGeoProjection(t *testing.T) {
	in := "t,v,lon,lat,s\n0,a,0,0,5\n0,b,1,0,5\n"
	got, err := Parse(strings.NewReader(in), WithGeoProjection(3857))
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.InDelta(t, 0, got[0].X, 1e-6)
	assert.InDelta(t, 0, got[0].Y, 1e-6)
	// one degree of longitude on the web-mercator equator
	assert.InDelta(t, 6378137*math.Pi/180, got[1].X, 1e-3)
	assert.Equal(t, 5.0, got[1].Speed)
}
