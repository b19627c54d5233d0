package mapper

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/notifyhub/formsync/internal/domain"
)

// Mapper turns a queued submission into one provider operation. A returned
// error marks only that item failed; it never aborts the batch.
type Mapper interface {
	Map(item *domain.QueueItem) (domain.OperationDescriptor, error)
}

// Func adapts a plain function to Mapper.
type Func func(item *domain.QueueItem) (domain.OperationDescriptor, error)

func (f Func) Map(item *domain.QueueItem) (domain.OperationDescriptor, error) { return f(item) }

// emailKeys are probed in order when settings name no email field.
var emailKeys = []string{"email", "email_address", "your-email"}

type memberBody struct {
	EmailAddress string            `json:"email_address"`
	Status       string            `json:"status,omitempty"`
	StatusIfNew  string            `json:"status_if_new,omitempty"`
	MergeFields  map[string]string `json:"merge_fields,omitempty"`
	Tags         []string          `json:"tags,omitempty"`
}

// Mailchimp maps submissions onto list-member create or upsert calls.
type Mailchimp struct{}

func (Mailchimp) Map(item *domain.QueueItem) (domain.OperationDescriptor, error) {
	audience := item.Settings.DestinationKey()
	if audience == "" {
		return domain.OperationDescriptor{}, domain.ErrNoDestination
	}

	email, err := emailOf(item)
	if err != nil {
		return domain.OperationDescriptor{}, err
	}

	status := "subscribed"
	if item.Settings.DoubleOptIn {
		status = "pending"
	}

	body := memberBody{
		EmailAddress: email,
		MergeFields:  mergeFields(item),
		Tags:         item.Settings.Tags,
	}

	op := domain.OperationDescriptor{OperationID: strconv.FormatInt(item.ID, 10)}
	listPath := "/lists/" + url.PathEscape(audience) + "/members"
	if item.Settings.UpdateExisting {
		op.Method = http.MethodPut
		op.Path = listPath + "/" + SubscriberHash(email)
		body.StatusIfNew = status
	} else {
		op.Method = http.MethodPost
		op.Path = listPath
		body.Status = status
	}

	op.Body, err = json.Marshal(body)
	if err != nil {
		return domain.OperationDescriptor{}, fmt.Errorf("marshal member body: %w", err)
	}
	return op, nil
}

// SubscriberHash is the provider's member id: md5 of the lowercased address.
func SubscriberHash(email string) string {
	sum := md5.Sum([]byte(strings.ToLower(strings.TrimSpace(email))))
	return hex.EncodeToString(sum[:])
}

func emailOf(item *domain.QueueItem) (string, error) {
	keys := emailKeys
	if f := item.Settings.EmailField; f != "" {
		keys = []string{f}
	}
	for _, k := range keys {
		v, ok := item.Payload[k]
		if !ok {
			continue
		}
		email := strings.TrimSpace(stringify(v))
		if email == "" {
			continue
		}
		at := strings.Index(email, "@")
		if at <= 0 || at == len(email)-1 || strings.ContainsAny(email, " \t\r\n") {
			return "", fmt.Errorf("%w: %q", domain.ErrInvalidEmail, email)
		}
		return email, nil
	}
	return "", domain.ErrMissingEmail
}

func mergeFields(item *domain.QueueItem) map[string]string {
	if len(item.Settings.MergeFields) == 0 {
		return nil
	}
	out := make(map[string]string, len(item.Settings.MergeFields))
	for field, tag := range item.Settings.MergeFields {
		v, ok := item.Payload[field]
		if !ok {
			continue
		}
		if s := stringify(v); s != "" {
			out[strings.ToUpper(tag)] = s
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// stringify flattens form values; multi-value fields (checkboxes) are joined.
func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []any:
		parts := make([]string, 0, len(t))
		for _, p := range t {
			if s := stringify(p); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ", ")
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}

// compile-time check that Mailchimp implements Mapper
var _ Mapper = Mailchimp{}
