package domain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPlayer_FeedID(t *testing.T) {
	p := Player{UUID: "069a79f4-44e9-4726-a5be-fca90e38aaf5", Username: "Notch"}
	require.Equal(t, "069a79f444e94726a5befca90e38aaf5", p.FeedID())
}
