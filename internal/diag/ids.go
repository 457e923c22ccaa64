package diag

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// newID returns "<prefix>-<unix millis>-<9 random chars>".
func newID(prefix string, at time.Time) string {
	random := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fmt.Sprintf("%s-%d-%s", prefix, at.UnixMilli(), random[:9])
}
