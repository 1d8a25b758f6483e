package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/broadcastio/wagateway/pkg/attachment"
	"github.com/broadcastio/wagateway/pkg/logger"
	"github.com/broadcastio/wagateway/pkg/send"
)

const maxSendBody = 1 << 20

// sendBody is the wire form of POST /send. Fields stay raw so loosely typed
// clients (numeric recipients, null attachments) decode the way they expect.
type sendBody struct {
	Recipient  json.RawMessage `json:"recipient"`
	Content    json.RawMessage `json:"content"`
	Attachment json.RawMessage `json:"attachment"`
	Metadata   json.RawMessage `json:"metadata"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	req, err := decodeSendRequest(http.MaxBytesReader(w, r.Body, maxSendBody))
	if err != nil {
		logger.WarnCF("api", "Malformed send request", map[string]interface{}{
			"error": err.Error(),
		})
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"success": false,
			"error":   "invalid request body",
		})
		return
	}

	writeOutcome(w, s.sender.Send(r.Context(), req))
}

// writeOutcome maps every outcome to its status and body.
func writeOutcome(w http.ResponseWriter, out send.Outcome) {
	switch v := out.(type) {
	case send.Success:
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success":    true,
			"provider":   send.Provider,
			"message_id": v.MessageID,
		})
	case send.ValidationFailure:
		switch v.Kind {
		case send.MissingFields:
			writeJSON(w, http.StatusBadRequest, map[string]interface{}{
				"success": false,
				"error":   v.Detail,
			})
		case send.InvalidAttachment:
			writeJSON(w, http.StatusBadRequest, map[string]interface{}{
				"success": false,
				"error":   errorDetail{Code: string(v.Kind), Message: v.Detail, Details: v.Reason},
			})
		default:
			// logical rejection: the request itself was fine
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"success": false,
				"error":   errorDetail{Code: string(v.Kind), Message: v.Detail},
			})
		}
	case send.NotReady:
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"success": false,
			"error":   v.Detail,
		})
	case send.DispatchFailure:
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"success": false,
			"error":   v.Detail,
		})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"success": false,
			"error":   "unknown send outcome",
		})
	}
}

// decodeSendRequest parses a send body. An empty body is an empty request,
// which the pipeline rejects as missing fields.
func decodeSendRequest(body io.Reader) (send.Request, error) {
	var raw sendBody
	if err := json.NewDecoder(body).Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
		return send.Request{}, err
	}

	req := send.Request{
		Recipient: scalarString(raw.Recipient),
		Content:   scalarString(raw.Content),
	}

	if isPresent(raw.Metadata) {
		var md struct {
			ReferenceID json.RawMessage `json:"reference_id"`
		}
		if json.Unmarshal(raw.Metadata, &md) == nil {
			req.Metadata.ReferenceID = scalarString(md.ReferenceID)
		}
	}

	if isPresent(raw.Attachment) {
		ref := attachment.Ref{}
		var a struct {
			Path json.RawMessage `json:"path"`
		}
		if json.Unmarshal(raw.Attachment, &a) == nil {
			var path string
			if json.Unmarshal(a.Path, &path) == nil {
				ref = attachment.NewRef(path)
			}
		}
		req.Attachment = &ref
	}

	return req, nil
}

// isPresent treats absent, null, false, 0 and "" as no value, the way
// loosely typed senders leave an optional object out.
func isPresent(raw json.RawMessage) bool {
	v := bytes.TrimSpace(raw)
	if len(v) == 0 {
		return false
	}
	var decoded interface{}
	if err := json.Unmarshal(v, &decoded); err != nil {
		return true
	}
	switch d := decoded.(type) {
	case nil:
		return false
	case bool:
		return d
	case float64:
		return d != 0
	case string:
		return d != ""
	default:
		return true
	}
}

// scalarString returns a JSON string as-is and a JSON number in its literal
// form. Anything else is empty.
func scalarString(raw json.RawMessage) string {
	v := bytes.TrimSpace(raw)
	if len(v) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(v, &s) == nil {
		return s
	}
	var n json.Number
	if json.Unmarshal(v, &n) == nil {
		return n.String()
	}
	return ""
}
