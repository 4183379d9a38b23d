package utils_test

import (
	"sync/atomic"
	"testing"

	"github.com/soapboxderby/derbynet-agent/internal/utils"
	"github.com/stretchr/testify/assert"
)

func TestWorkerPool_RunsAllJobs(t *testing.T) {
	pool := utils.NewWorkerPool(3)

	var count int32
	for i := 0; i < 20; i++ {
		pool.Submit(func() { atomic.AddInt32(&count, 1) })
	}
	pool.Shutdown()

	assert.Equal(t, int32(20), atomic.LoadInt32(&count))
}

func TestWorkerPool_SubmitAfterShutdown(t *testing.T) {
	pool := utils.NewWorkerPool(1)
	pool.Shutdown()

	assert.False(t, pool.Submit(func() {}))
	pool.Shutdown()
}
