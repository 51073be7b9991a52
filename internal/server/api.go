package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/sjawhar/tish/internal/pipeline"
	"github.com/sjawhar/tish/internal/safety"
	"github.com/sjawhar/tish/internal/speech"
	"github.com/sjawhar/tish/internal/storage"
	"github.com/sjawhar/tish/internal/transcribe"
)

var datePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// ArchiveStore is the read side of the turn archive.
type ArchiveStore interface {
	GetDates(ctx context.Context) ([]string, error)
	GetConversationsByDate(ctx context.Context, date string) ([]storage.Conversation, error)
	GetTurns(ctx context.Context, conversationID string) ([]storage.TurnRecord, error)
}

type turnRequest struct {
	Text string `json:"text"`
}

type ttsRequest struct {
	Text             string `json:"text"`
	Voice            string `json:"voice"`
	EmotionalContext string `json:"emotional_context"`
}

type sttResponse struct {
	Transcript string `json:"transcript"`
	NoSpeech   bool   `json:"no_speech"`
}

type archivedConversation struct {
	storage.Conversation
	Turns []storage.TurnRecord `json:"turns"`
}

func registerAPIRoutes(mux *http.ServeMux, opts Options) {
	orch := opts.Orchestrator

	mux.HandleFunc("POST /api/turn", func(w http.ResponseWriter, r *http.Request) {
		var req turnRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("decode request: %v", err))
			return
		}

		// the turn lands in history even if the client disconnects
		ctx, cancel := pipeline.Detach(r.Context())
		defer cancel()

		result, err := orch.ProcessTurn(ctx, req.Text, pipeline.WithoutSpeech())
		if err != nil {
			if errors.Is(err, pipeline.ErrEmptyUtterance) {
				writeJSONError(w, http.StatusBadRequest, "text is required")
				return
			}
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("process turn: %v", err))
			return
		}
		writeJSON(w, http.StatusOK, result)
	})

	mux.HandleFunc("POST /api/tts", func(w http.ResponseWriter, r *http.Request) {
		if opts.Synthesizer == nil {
			writeJSONError(w, http.StatusServiceUnavailable, "speech synthesis is not configured")
			return
		}

		var req ttsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("decode request: %v", err))
			return
		}
		if strings.TrimSpace(req.Text) == "" {
			writeJSONError(w, http.StatusBadRequest, "text is required")
			return
		}
		tone, err := speech.ParseTone(req.EmotionalContext)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		voice, err := speech.ParseVoice(req.Voice)
		if err != nil {
			log.Printf("warning: %v, using primary voice", err)
			voice = speech.VoicePrimary
		}

		start := time.Now()
		clip, err := opts.Synthesizer.Synthesize(r.Context(), speech.Request{Text: req.Text, Voice: voice, Tone: tone})
		opts.Metrics.ObserveTTS(r.Context(), start)
		if err != nil {
			opts.Metrics.RecordProviderError(r.Context(), "tts", "synthesize")
			writeJSONError(w, http.StatusBadGateway, fmt.Sprintf("synthesize: %v", err))
			return
		}

		w.Header().Set("Content-Type", speech.ContentType)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(clip)
	})

	mux.HandleFunc("POST /api/stt", func(w http.ResponseWriter, r *http.Request) {
		if opts.Transcriber == nil {
			writeJSONError(w, http.StatusServiceUnavailable, "transcription is not configured")
			return
		}

		data, contentType, err := readAudio(w, r)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeJSONError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("audio exceeds %d bytes", transcribe.MaxAudioBytes))
				return
			}
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}

		start := time.Now()
		text, err := opts.Transcriber.Transcribe(r.Context(), data, contentType)
		opts.Metrics.ObserveSTT(r.Context(), start)
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, sttResponse{Transcript: text})
		case errors.Is(err, transcribe.ErrNoSpeech):
			writeJSON(w, http.StatusOK, sttResponse{NoSpeech: true})
		case errors.Is(err, transcribe.ErrTimeout):
			opts.Metrics.RecordProviderError(r.Context(), "stt", "timeout")
			writeJSON(w, http.StatusGatewayTimeout, map[string]any{
				"error": "transcription timed out, please try again",
				"retry": true,
			})
		default:
			opts.Metrics.RecordProviderError(r.Context(), "stt", "transcribe")
			writeJSONError(w, http.StatusBadGateway, fmt.Sprintf("transcribe: %v", err))
		}
	})

	mux.HandleFunc("GET /api/history", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"conversation_id": orch.ConversationID(),
			"capacity":        orch.HistoryCap(),
			"turns":           orch.History(),
		})
	})

	mux.HandleFunc("POST /api/history/reset", func(w http.ResponseWriter, r *http.Request) {
		id := orch.Reset(r.Context())
		writeJSON(w, http.StatusOK, map[string]string{"conversation_id": id})
	})

	mux.HandleFunc("GET /api/resources", func(w http.ResponseWriter, r *http.Request) {
		region := r.URL.Query().Get("region")
		if region == "" {
			region = opts.Region
		}
		writeJSON(w, http.StatusOK, safety.LookupResources(region))
	})

	mux.HandleFunc("GET /api/welcome", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"message": orch.Welcome()})
	})

	mux.HandleFunc("GET /api/status", func(w http.ResponseWriter, r *http.Request) {
		var warnings []string
		if opts.Warnings != nil {
			warnings = opts.Warnings()
		}
		if warnings == nil {
			warnings = []string{}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"conversation_id": orch.ConversationID(),
			"speech":          opts.Synthesizer != nil,
			"transcription":   opts.Transcriber != nil,
			"live_capture":    opts.NewCapture != nil,
			"warnings":        warnings,
		})
	})

	mux.HandleFunc("GET /api/archive/dates", func(w http.ResponseWriter, r *http.Request) {
		if opts.Archive == nil {
			writeJSONError(w, http.StatusServiceUnavailable, "archive is not configured")
			return
		}
		dates, err := opts.Archive.GetDates(r.Context())
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("get dates: %v", err))
			return
		}
		if dates == nil {
			dates = []string{}
		}
		writeJSON(w, http.StatusOK, dates)
	})

	mux.HandleFunc("GET /api/archive", func(w http.ResponseWriter, r *http.Request) {
		if opts.Archive == nil {
			writeJSONError(w, http.StatusServiceUnavailable, "archive is not configured")
			return
		}
		date := r.URL.Query().Get("date")
		if date == "" {
			date = time.Now().UTC().Format("2006-01-02")
		}
		if !datePattern.MatchString(date) {
			writeJSONError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}

		conversations, err := opts.Archive.GetConversationsByDate(r.Context(), date)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("list conversations: %v", err))
			return
		}

		out := make([]archivedConversation, 0, len(conversations))
		for _, c := range conversations {
			turns, err := opts.Archive.GetTurns(r.Context(), c.ID)
			if err != nil {
				writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("get turns: %v", err))
				return
			}
			if turns == nil {
				turns = []storage.TurnRecord{}
			}
			out = append(out, archivedConversation{Conversation: c, Turns: turns})
		}
		writeJSON(w, http.StatusOK, out)
	})
}

// readAudio accepts either a raw audio body or a multipart form with an
// "audio" file field, capped at transcribe.MaxAudioBytes.
func readAudio(w http.ResponseWriter, r *http.Request) ([]byte, string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, transcribe.MaxAudioBytes+1<<20)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		if err := r.ParseMultipartForm(transcribe.MaxAudioBytes); err != nil {
			return nil, "", err
		}
		file, header, err := r.FormFile("audio")
		if err != nil {
			return nil, "", fmt.Errorf("audio field is required: %w", err)
		}
		defer func() { _ = file.Close() }()

		data, err := io.ReadAll(io.LimitReader(file, transcribe.MaxAudioBytes+1))
		if err != nil {
			return nil, "", err
		}
		if len(data) > transcribe.MaxAudioBytes {
			return nil, "", &http.MaxBytesError{Limit: transcribe.MaxAudioBytes}
		}
		if len(data) == 0 {
			return nil, "", errors.New("audio is empty")
		}
		return data, header.Header.Get("Content-Type"), nil
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, "", err
	}
	if len(data) > transcribe.MaxAudioBytes {
		return nil, "", &http.MaxBytesError{Limit: transcribe.MaxAudioBytes}
	}
	if len(data) == 0 {
		return nil, "", errors.New("audio is empty")
	}
	return data, mediaType, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
