package discovery

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRegistration struct {
	shutdowns int
}

func (f *fakeRegistration) Shutdown() { f.shutdowns++ }

type registerCall struct {
	instance, service, domain string
	port                      int
	txt                       []string
}

// stubRegister replaces register for the duration of the test. The first
// failures calls return an error.
func stubRegister(t *testing.T, failures int) (*[]registerCall, *fakeRegistration) {
	t.Helper()
	orig := register
	t.Cleanup(func() { register = orig })

	var calls []registerCall
	reg := &fakeRegistration{}
	register = func(instance, service, domain string, port int, txt []string) (registration, error) {
		calls = append(calls, registerCall{instance, service, domain, port, txt})
		if len(calls) <= failures {
			return nil, errors.New("no multicast interface")
		}
		return reg, nil
	}
	return &calls, reg
}

func TestTXT(t *testing.T) {
	tests := []struct {
		name string
		svc  Service
		want []string
	}{
		{"full", Service{Version: "1.0.0", MaxLine: 8192}, []string{"version=1.0.0", "max_line=8192"}},
		{"version only", Service{Version: "2.1"}, []string{"version=2.1"}},
		{"empty", Service{}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TXT(tt.svc))
		})
	}
}

func TestParseTXT(t *testing.T) {
	got := ParseTXT([]string{"version=1.0.0", "max_line=8192", "flag", "=orphan", "k=a=b"})
	assert.Equal(t, map[string]string{
		"version":  "1.0.0",
		"max_line": "8192",
		"flag":     "",
		"k":        "a=b",
	}, got)
}

func TestParseTXT_RoundTrip(t *testing.T) {
	svc := Service{Version: "1.0.0", MaxLine: 4096}
	m := ParseTXT(TXT(svc))
	assert.Equal(t, "1.0.0", m["version"])
	assert.Equal(t, "4096", m["max_line"])
}

func TestDefaultInstance(t *testing.T) {
	name := DefaultInstance()
	assert.True(t, strings.HasPrefix(name, "linechat"))
	assert.NotContains(t, name, ".")
}

func TestAdvertise(t *testing.T) {
	calls, reg := stubRegister(t, 0)

	ad, err := Advertise(context.Background(), Service{Instance: "lobby", Port: 5555, Version: "1.0.0", MaxLine: 8192}, nil)
	require.NoError(t, err)
	assert.Equal(t, "lobby", ad.Instance)

	require.Len(t, *calls, 1)
	c := (*calls)[0]
	assert.Equal(t, "lobby", c.instance)
	assert.Equal(t, ServiceType, c.service)
	assert.Equal(t, ServiceDomain, c.domain)
	assert.Equal(t, 5555, c.port)
	assert.Equal(t, []string{"version=1.0.0", "max_line=8192"}, c.txt)

	ad.Shutdown()
	ad.Shutdown()
	assert.Equal(t, 1, reg.shutdowns)
}

func TestAdvertise_RetriesThenSucceeds(t *testing.T) {
	calls, _ := stubRegister(t, 2)

	ad, err := Advertise(context.Background(), Service{Instance: "lobby", Port: 5555}, nil)
	require.NoError(t, err)
	require.NotNil(t, ad)
	assert.Len(t, *calls, 3)
}

func TestAdvertise_GivesUp(t *testing.T) {
	calls, _ := stubRegister(t, 100)

	_, err := Advertise(context.Background(), Service{Instance: "lobby", Port: 5555}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max retries (4) exceeded")
	assert.Len(t, *calls, 4)
}

func TestAdvertise_ContextCancelled(t *testing.T) {
	stubRegister(t, 100)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := Advertise(ctx, Service{Instance: "lobby", Port: 5555}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestAdvertise_InvalidPort(t *testing.T) {
	calls, _ := stubRegister(t, 0)

	_, err := Advertise(context.Background(), Service{Port: 0}, nil)
	require.Error(t, err)
	assert.Empty(t, *calls)
}

func TestAdvertisement_NilShutdown(t *testing.T) {
	var ad *Advertisement
	assert.NotPanics(t, ad.Shutdown)
}
