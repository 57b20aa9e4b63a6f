package taskrunner

import (
	"context"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Patryk27/free-churro-scheduler/internal/errs"
	"github.com/Patryk27/free-churro-scheduler/internal/task"
)

func TestDemo_Baz_Succeeds(t *testing.T) {
	d := NewDemo(nil)
	d.Rand = rand.New(rand.NewSource(1))

	err := d.Run(context.Background(), task.Task{ID: uuid.New(), Def: []byte(`{"ty":"baz"}`)})
	require.NoError(t, err)
}

func TestDemo_Bar_HitsInjectedURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	defer srv.Close()

	d := NewDemo(nil)
	d.BarURL = srv.URL

	err := d.Run(context.Background(), task.Task{ID: uuid.New(), Def: []byte(`{"ty":"bar"}`)})
	require.NoError(t, err)
}

func TestDemo_MalformedDef(t *testing.T) {
	d := NewDemo(nil)

	err := d.Run(context.Background(), task.Task{ID: uuid.New(), Def: []byte(`not json`)})
	assert.ErrorIs(t, err, errs.ErrMalformedDef)
}

func TestDemo_UnrecognizedTy(t *testing.T) {
	d := NewDemo(nil)

	err := d.Run(context.Background(), task.Task{ID: uuid.New(), Def: []byte(`{"ty":"quux"}`)})
	assert.ErrorIs(t, err, errs.ErrMalformedDef)
}
