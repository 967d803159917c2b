package yinzcam

import (
	"context"
	"fmt"
	"slices"
	"strconv"

	"github.com/tidwall/gjson"
	"resty.dev/v3"
)

// UserColumns is the column order of the users CSV written by the profiles
// job.
var UserColumns = []string{
	"yinzid",
	"email",
	"first_name",
	"last_name",
	"id_global",
	"firstLogin",
	"lastLogin",
	"clientId",
}

// ProfilesClient fetches pages of user profiles from the YinzCam profiles
// API.
type ProfilesClient struct {
	http *resty.Client
}

// NewProfilesClient creates a client for the profiles API. Transient
// failures (connection errors, 429 and 5xx responses) are retried up to
// three times per request.
func NewProfilesClient(endpoint string, username string, password string) *ProfilesClient {
	return &ProfilesClient{
		http: resty.New().
			SetBaseURL(endpoint).
			SetBasicAuth(username, password).
			SetTimeout(requestTimeout).
			SetRetryCount(3),
	}
}

// FetchUsersPage requests one page of user profiles. Pages are numbered
// from zero; a page with fewer than limit profiles is the last one.
func (c *ProfilesClient) FetchUsersPage(ctx context.Context, page int, limit int) ([]byte, error) {
	got, err := c.http.NewRequest().
		WithContext(ctx).
		SetQueryParam("page", strconv.Itoa(page)).
		SetQueryParam("limit", strconv.Itoa(limit)).
		Get("/profiles/JANRAIN")
	if err != nil {
		return nil, fmt.Errorf("failed to GET users page %d: %w", page, err)
	} else if !got.IsSuccess() {
		return nil, fmt.Errorf("failed to GET %s: %s: %s", got.Request.URL, got.Status(), bodySnippet(got.String()))
	}

	return got.Bytes(), nil
}

// ParseUsersPage extracts one row per profile from a users page, with cells
// ordered per UserColumns.
//
// Each profile in the page's Users array is a list of entries. An entry is
// a nested object whose first two leaf values, in document order, are the
// field name and the field value. The janrain_clients field carries a
// JSON-encoded array of per-app login records; only the record whose
// clientId matches mobileHost contributes, filling the clientId, firstLogin
// and lastLogin cells. Other fields outside UserColumns are ignored.
//
// A profile without a yinzid means the API returned something malformed,
// and fails the whole page.
func ParseUsersPage(body []byte, mobileHost string) ([][]string, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("users page is not valid json")
	}

	users := gjson.GetBytes(body, "Users")
	if !users.IsArray() {
		return nil, fmt.Errorf("users page has no Users array")
	}

	var rows [][]string
	for i, user := range users.Array() {
		row, err := parseUser(user, mobileHost)
		if err != nil {
			return nil, fmt.Errorf("user %d: %w", i, err)
		}
		rows = append(rows, row)
	}

	return rows, nil
}

func parseUser(user gjson.Result, mobileHost string) ([]string, error) {
	fields := make(map[string]string, len(UserColumns))
	var haveYinzid bool

	for _, entry := range user.Get("Entry").Array() {
		leaves := leafValues(entry)
		if len(leaves) < 2 {
			return nil, fmt.Errorf("profile entry has fewer than two leaf values: %s", bodySnippet(entry.Raw))
		}
		key := leafString(leaves[0])
		value := leaves[1]

		if key == "janrain_clients" && value.String() != "[]" {
			for _, record := range gjson.Parse(value.String()).Array() {
				if record.Get("clientId").String() == mobileHost {
					fields["clientId"] = mobileHost
					fields["firstLogin"] = leafString(record.Get("firstLogin"))
					fields["lastLogin"] = leafString(record.Get("lastLogin"))
				}
			}
		} else if slices.Contains(UserColumns, key) {
			fields[key] = leafString(value)
			if key == "yinzid" && value.Type != gjson.Null {
				haveYinzid = true
			}
		}
	}

	if !haveYinzid {
		return nil, fmt.Errorf("profile is missing a yinzid")
	}

	row := make([]string, len(UserColumns))
	for i, col := range UserColumns {
		row[i] = fields[col]
	}

	return row, nil
}

// leafValues collects the scalar leaves of a nested value in document
// order, recursing through objects only. Arrays are treated as leaves,
// which is how janrain_clients payloads survive intact.
func leafValues(r gjson.Result) []gjson.Result {
	var leaves []gjson.Result
	var walk func(gjson.Result)
	walk = func(v gjson.Result) {
		if v.IsObject() {
			v.ForEach(func(_, child gjson.Result) bool {
				walk(child)
				return true
			})
			return
		}
		leaves = append(leaves, v)
	}
	walk(r)

	return leaves
}

func leafString(r gjson.Result) string {
	switch r.Type {
	case gjson.String:
		return r.Str
	case gjson.Null:
		return ""
	default:
		return r.Raw
	}
}
