package memory

import (
	"testing"

	"github.com/fulcrumhq/fulcrum/internal/app/subsystems/store"
	"github.com/fulcrumhq/fulcrum/internal/app/subsystems/store/test"
)

func TestMemoryStore(t *testing.T) {
	test.Run(t, func(t *testing.T) store.Store {
		return New()
	})
}
