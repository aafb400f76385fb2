package metadata

import (
	"reflect"
	"testing"
)

func TestFromLabels(t *testing.T) {
	tests := []struct {
		name    string
		labels  []string
		want    []NameValue
		wantErr bool
	}{
		{name: "no labels", labels: nil, want: nil},
		{name: "one label", labels: []string{"site=lga03"}, want: []NameValue{{Name: "site", Value: "lga03"}}},
		{name: "value containing equals", labels: []string{"query=a=b"}, want: []NameValue{{Name: "query", Value: "a=b"}}},
		{name: "empty value", labels: []string{"flag="}, want: []NameValue{{Name: "flag", Value: ""}}},
		{name: "missing equals", labels: []string{"nonsense"}, wantErr: true},
		{name: "empty name", labels: []string{"=value"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FromLabels(tt.labels)
			if (err != nil) != tt.wantErr {
				t.Errorf("FromLabels(%v) error = %v, wantErr %v", tt.labels, err, tt.wantErr)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("FromLabels(%v) = %v, want %v", tt.labels, got, tt.want)
			}
		})
	}
}
