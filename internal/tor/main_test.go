package tor

import (
	"os"
	"testing"

	"github.com/nao1215/torcrawl/internal/tor/tortest"
)

func TestMain(m *testing.M) {
	os.Exit(tortest.Main(m))
}
