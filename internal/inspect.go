package internal

import (
	"encoding/json"
	"html/template"
	"net/http"
	"strconv"
	"strings"
	"time"

	"konnekt-chat/domain"

	"github.com/dgraph-io/badger/v4"
)

// MessagePrefix is the key prefix of every stored chat message.
const MessagePrefix = "msg:"

var inspectPage = template.Must(template.New("inspect").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>konnekt-chat inspector</title></head>
<body>
<h1>Prefix {{.Prefix}}</h1>
{{if .Stats}}<ul>{{range $k, $v := .Stats}}<li>{{$k}}: {{$v}}</li>{{end}}</ul>{{end}}
<table>
<tr><th>Key</th><th>Chat</th><th>Time</th><th>ID</th><th>From</th><th>To</th><th>Detail</th></tr>
{{range .Items}}<tr><td>{{.Key}}</td><td>{{.Chat}}</td><td>{{.Timestamp}}</td><td>{{.EntityID}}</td><td>{{.Sender}}</td><td>{{.Recipient}}</td><td>{{.Detail}}</td></tr>
{{end}}</table>
</body>
</html>`))

type InspectRow struct {
	Key       string
	Chat      string
	Timestamp string
	EntityID  string
	Sender    string
	Recipient string
	Detail    string
}

type StatsProvider func() map[string]any

type PageData struct {
	Prefix string
	Items  []InspectRow
	Stats  map[string]any
}

// InspectHandler renders the raw content of the store under ?prefix=
// (default msg:). Meant for local debugging only.
func InspectHandler(db *badger.DB, stats StatsProvider) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		prefix := r.URL.Query().Get("prefix")
		if prefix == "" {
			prefix = MessagePrefix
		}

		rows, err := ScanRows(db, prefix)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		data := PageData{Prefix: prefix, Items: rows, Stats: make(map[string]any)}
		if stats != nil {
			data.Stats = stats()
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_ = inspectPage.Execute(w, data)
	})
}

// ScanRows maps every key under prefix to a row, in key order.
func ScanRows(db *badger.DB, prefix string) ([]InspectRow, error) {
	var rows []InspectRow
	err := db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek([]byte(prefix)); it.ValidForPrefix([]byte(prefix)); it.Next() {
			item := it.Item()
			key := string(item.KeyCopy(nil))
			if err := item.Value(func(val []byte) error {
				rows = append(rows, MessageRow(key, val))
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	return rows, err
}

// MessageRow decodes a "msg:{chat_id}:{unix_nano}:{id}" entry. Keys or
// values of another shape keep the placeholder columns.
func MessageRow(key string, val []byte) InspectRow {
	row := InspectRow{
		Key:       key,
		Chat:      "-",
		Timestamp: "--:--:--",
		EntityID:  "--------",
		Detail:    "Size: " + strconv.Itoa(len(val)) + " bytes",
	}

	rest, ok := strings.CutPrefix(key, MessagePrefix)
	if !ok {
		return row
	}
	// The chat id is everything before the last two segments.
	parts := strings.Split(rest, ":")
	if len(parts) >= 3 {
		row.Chat = strings.Join(parts[:len(parts)-2], ":")
		if tsNano, err := strconv.ParseInt(parts[len(parts)-2], 10, 64); err == nil {
			row.Timestamp = time.Unix(0, tsNano).UTC().Format("15:04:05")
		}
		row.EntityID = parts[len(parts)-1]
		if len(row.EntityID) > 8 {
			row.EntityID = row.EntityID[:8]
		}
	}

	var msg domain.Message
	if err := json.Unmarshal(val, &msg); err != nil {
		row.Detail = "Error: unmarshal failed"
		return row
	}
	row.Sender = msg.SenderID
	row.Recipient = msg.RecipientID
	row.Detail = msg.Body
	return row
}
