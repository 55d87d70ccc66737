package metrics

import (
	"testing"
	"time"

	errors "github.com/Laisky/errors/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestObserveQueryCountsByStatus(t *testing.T) {
	okBefore := testutil.ToFloat64(queryTotal.WithLabelValues("read", "success"))
	failBefore := testutil.ToFloat64(queryTotal.WithLabelValues("read", "failure"))

	ObserveQuery("read", 3*time.Millisecond, nil)
	ObserveQuery("read", time.Millisecond, errors.New("boom"))

	require.Equal(t, okBefore+1, testutil.ToFloat64(queryTotal.WithLabelValues("read", "success")))
	require.Equal(t, failBefore+1, testutil.ToFloat64(queryTotal.WithLabelValues("read", "failure")))
}

func TestObserveUploadAndConnection(t *testing.T) {
	bytesBefore := testutil.ToFloat64(uploadBytes)

	ObserveUpload(2048, nil)
	ObserveUpload(4096, errors.New("corrupt"))
	require.Equal(t, bytesBefore+2048, testutil.ToFloat64(uploadBytes))

	SetConnectionOpen(true)
	require.Equal(t, 1.0, testutil.ToFloat64(connectionOpen))
	SetConnectionOpen(false)
	require.Equal(t, 0.0, testutil.ToFloat64(connectionOpen))
}
