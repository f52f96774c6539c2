package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func validParams() Params {
	return Params{
		MStart:      1000037,
		MInc:        200,
		P:           1511,
		D:           2190,
		SieveLength: 12000,
		SieveRangeM: 100,
	}
}

func TestUnknownFileNameRoundTrip(t *testing.T) {
	p := validParams()
	name := p.UnknownFileName()
	require.Equal(t, "1000037_1511_2190_200_s12000_l100M.txt", name)

	parsed, err := ParseUnknownFileName(name)
	require.NoError(t, err)
	require.Equal(t, p.MStart, parsed.MStart)
	require.Equal(t, p.MInc, parsed.MInc)
	require.Equal(t, p.P, parsed.P)
	require.Equal(t, p.D, parsed.D)
	require.Equal(t, p.SieveLength, parsed.SieveLength)
	require.Equal(t, p.SieveRangeM, parsed.SieveRangeM)
}

func TestParseUnknownFileNameIgnoresDirectory(t *testing.T) {
	parsed, err := ParseUnknownFileName("/data/runs/1000037_1511_2190_200_s12000_l100M.txt")
	require.NoError(t, err)
	require.Equal(t, uint64(1000037), parsed.MStart)
}

func TestParseUnknownFileNameRejectsJunk(t *testing.T) {
	for _, name := range []string{
		"results.txt",
		"1000037_1511_2190_200.txt",
		"1000037_1511_2190_200_s12000_l100M.log",
	} {
		_, err := ParseUnknownFileName(name)
		require.Errorf(t, err, "name %q", name)
	}
}

func TestValidateDefaults(t *testing.T) {
	p := validParams()
	require.NoError(t, p.Validate())

	require.Equal(t, 10.0, p.MinMerit)
	require.Equal(t, "prime-gaps.db", p.DBPath)
	require.Equal(t, 1, p.Workers)
	require.Equal(t, p.UnknownFileName(), p.UnknownFile)
	require.Equal(t, uint64(100_000_000), p.SieveRange())
}

func TestValidateInfersFromFilename(t *testing.T) {
	p := Params{UnknownFile: "1000037_1511_2190_200_s12000_l100M.txt"}
	require.NoError(t, p.Validate())

	require.Equal(t, uint64(1000037), p.MStart)
	require.Equal(t, uint64(200), p.MInc)
	require.Equal(t, uint64(1511), p.P)
	require.Equal(t, uint64(2190), p.D)
	require.Equal(t, 12000, p.SieveLength)
	require.Equal(t, uint64(100), p.SieveRangeM)
}

func TestValidateRejectsMismatchedFilename(t *testing.T) {
	p := validParams()
	p.UnknownFile = "999_1511_2190_200_s12000_l100M.txt"
	require.Error(t, p.Validate())
}

func TestValidateRejectsBadParams(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Params)
	}{
		{"missing mstart", func(p *Params) { p.MStart = 0 }},
		{"missing minc", func(p *Params) { p.MInc = 0 }},
		{"missing p", func(p *Params) { p.P = 0 }},
		{"missing d", func(p *Params) { p.D = 0 }},
		{"sieve length too small", func(p *Params) { p.SieveLength = 1 }},
		{"missing sieve range", func(p *Params) { p.SieveRangeM = 0 }},
		{"p above small prime bound", func(p *Params) { p.P = 80001 }},
		{"estimate with workers", func(p *Params) { p.Estimate = true; p.Workers = 4 }},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			p := validParams()
			c.mutate(&p)
			require.Error(t, p.Validate())
		})
	}
}

func TestFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	data := `mstart: 1000037
minc: 200
p: 1511
d: 2190
sieve_length: 12000
sieve_range: 100
min_merit: 18
certifier: ./pfgw64
workers: 4
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	p, err := FromFile(path)
	require.NoError(t, err)
	require.NoError(t, p.Validate())
	require.Equal(t, uint64(1511), p.P)
	require.Equal(t, 18.0, p.MinMerit)
	require.Equal(t, "./pfgw64", p.CertifierPath)
	require.Equal(t, 4, p.Workers)
}

func TestFromFileMissing(t *testing.T) {
	_, err := FromFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}
