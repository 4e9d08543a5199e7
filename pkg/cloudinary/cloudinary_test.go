package cloudinary

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestBuildPublicID(t *testing.T) {
	now := time.Unix(1700000000, 0)

	require.Equal(t, "Essay-final-1700000000", BuildPublicID("Essay final.pdf", now))
	require.Equal(t, "upload-1700000000", BuildPublicID("###.docx", now))
	require.Equal(t, "report-v2-1700000000", BuildPublicID("report_v2", now))
}

func TestNewRequiresCredentials(t *testing.T) {
	_, err := New(Config{CloudName: "demo"}, zerolog.Nop())
	require.Error(t, err)
}
