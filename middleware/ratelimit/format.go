// utilitário pequeno para formatação consistente de valores em headers.
// Reset sai em ISO-8601 com milissegundos em UTC (mesmo formato de toISOString).

package ratelimit

import (
	"strconv"
	"time"
)

const isoMillis = "2006-01-02T15:04:05.000Z07:00"

func formatInt(v int) string { return strconv.Itoa(v) }

func formatFloat(v float64) string {
	// sem notação científica para valores comuns
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatISO(t time.Time) string {
	return t.UTC().Format(isoMillis)
}
