package httpserver

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gopkg.in/yaml.v3"

	"github.com/tinytelemetry/diagd/internal/model"
)

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}

// intQuery parses an optional non-negative integer query parameter.
func intQuery(c *gin.Context, name string) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		badRequest(c, fmt.Sprintf("invalid %s: %q", name, raw))
		return 0, false
	}
	return n, true
}

// floatQuery parses an optional non-negative number query parameter.
func floatQuery(c *gin.Context, name string) (float64, bool) {
	raw := c.Query(name)
	if raw == "" {
		return 0, true
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || f < 0 {
		badRequest(c, fmt.Sprintf("invalid %s: %q", name, raw))
		return 0, false
	}
	return f, true
}

// levelQuery parses an optional ?level= filter. Spellings such as "error"
// or "warning" are normalised; unknown names are rejected.
func levelQuery(c *gin.Context) (model.Level, bool) {
	raw := c.Query("level")
	if raw == "" {
		return "", true
	}
	level, ok := model.ParseLevel(raw)
	if !ok {
		badRequest(c, fmt.Sprintf("invalid level: %q", raw))
		return "", false
	}
	return level, true
}

// categoryQuery parses an optional case-insensitive ?category= filter.
func categoryQuery(c *gin.Context) (model.Category, bool) {
	raw := c.Query("category")
	if raw == "" {
		return "", true
	}
	category, ok := model.ParseCategory(raw)
	if !ok {
		badRequest(c, fmt.Sprintf("invalid category: %q", raw))
		return "", false
	}
	return category, true
}

// boolQuery parses an optional boolean query parameter; absent yields nil.
func boolQuery(c *gin.Context, name string) (*bool, bool) {
	raw := c.Query(name)
	if raw == "" {
		return nil, true
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		badRequest(c, fmt.Sprintf("invalid %s: %q", name, raw))
		return nil, false
	}
	return &b, true
}

// download writes v as an attachment, encoded as YAML when ?format=yaml and
// as indented JSON otherwise.
func download(c *gin.Context, base string, v any) {
	if c.Query("format") == "yaml" {
		data, err := yaml.Marshal(v)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to encode export"})
			return
		}
		c.Header("Content-Disposition", "attachment; filename="+base+".yaml")
		c.Data(http.StatusOK, "application/yaml", data)
		return
	}
	c.Header("Content-Disposition", "attachment; filename="+base+".json")
	c.IndentedJSON(http.StatusOK, v)
}
