package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/tarunkv/recall/internal/transcript"
)

// handleExport downloads a session transcript. format=json returns the turn
// list as indented JSON; format=txt returns "ROLE: text" blocks. An unknown
// session exports as an empty transcript rather than a 404, so the UI's
// export buttons work before the first exchange.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if key == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "query parameter session_id is required")
		return
	}

	format := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("format")))
	if format == "" {
		format = "json"
	}

	turns := s.sessions.GetOrCreate(key).Buffer.Turns()

	switch format {
	case "json":
		payload, err := transcript.MarshalJSON(turns)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "export_failed", err.Error())
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Disposition", attachment(transcript.DefaultFilename("json")))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(payload)
	case "txt":
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Content-Disposition", attachment(transcript.DefaultFilename("txt")))
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprint(w, transcript.FormatText(turns))
	default:
		respondError(w, http.StatusBadRequest, "invalid_format", fmt.Sprintf("unsupported export format %q", format))
	}
}

func attachment(filename string) string {
	return fmt.Sprintf("attachment; filename=%q", filename)
}
