package app

import (
	"context"
	"net/url"
	"testing"

	"github.com/tidwall/gjson"

	"github.com/eugener/marketgate/internal/testutil"
)

func TestFillNewsImages(t *testing.T) {
	t.Parallel()

	body := []byte(`{"Data":[
		{"TITLE":"a","IMAGE_URL":""},
		{"TITLE":"b","IMAGE_URL":"https://img.example/b.png"},
		{"TITLE":"c"},
		{"TITLE":"d","IMAGE_URL":null}
	]}`)
	got := fillNewsImages(context.Background(), body)

	tests := []struct {
		path   string
		want   string
		exists bool
	}{
		{"Data.0.IMAGE_URL", FallbackNewsImage, true},
		{"Data.1.IMAGE_URL", "https://img.example/b.png", true},
		{"Data.2.IMAGE_URL", "", false},
		{"Data.3.IMAGE_URL", FallbackNewsImage, true},
	}
	for _, tt := range tests {
		r := gjson.GetBytes(got, tt.path)
		if r.Exists() != tt.exists || r.String() != tt.want {
			t.Errorf("%s = %q (exists %v), want %q (exists %v)", tt.path, r.String(), r.Exists(), tt.want, tt.exists)
		}
	}
	if gjson.GetBytes(got, "Data.0.TITLE").String() != "a" {
		t.Error("other fields must be preserved")
	}
}

func TestFillNewsImages_NoData(t *testing.T) {
	t.Parallel()

	body := []byte(`{"Err":{"message":"nope"}}`)
	if got := fillNewsImages(context.Background(), body); string(got) != string(body) {
		t.Errorf("body changed: %s", got)
	}
}

func TestFetchNews(t *testing.T) {
	t.Parallel()

	up := &testutil.FakeUpstream{
		ProviderName: ProviderCryptoCompare,
		GetFn: func(context.Context, string, url.Values) ([]byte, error) {
			return []byte(`{"Data":[{"IMAGE_URL":""}]}`), nil
		},
	}
	svc := newTestService(up, testutil.NewFakeCache(), MarketOptions{})

	for range 2 {
		got, err := svc.FetchNews(context.Background(), NewsQuery{Categories: "BTC"})
		if err != nil {
			t.Fatal(err)
		}
		if gjson.GetBytes(got, "Data.0.IMAGE_URL").String() != FallbackNewsImage {
			t.Errorf("image not patched: %s", got)
		}
	}
	if got := up.CallCount(); got != 2 {
		t.Errorf("upstream calls = %d, want 2 (news is not cached)", got)
	}

	call := up.Calls()[0]
	if call.Path != "/news/v1/article/list" {
		t.Errorf("path = %q", call.Path)
	}
	if call.Query.Get("lang") != "EN" || call.Query.Get("limit") != "4" || call.Query.Get("categories") != "BTC" {
		t.Errorf("query = %v", call.Query)
	}
}
