package tools

import "testing"

func TestDecodeArgs(t *testing.T) {
	t.Parallel()
	type pathArgs struct {
		Path  string `json:"path"`
		Limit int    `json:"limit"`
	}

	tests := []struct {
		name    string
		args    string
		want    pathArgs
		wantErr bool
	}{
		{name: "valid", args: `{"path":"a.txt","limit":3}`, want: pathArgs{Path: "a.txt", Limit: 3}},
		{name: "blank", args: "  ", want: pathArgs{}},
		{name: "truncated object", args: `{"path":"a.txt"`, want: pathArgs{Path: "a.txt"}},
		{name: "single quotes", args: `{'path': 'a.txt'}`, want: pathArgs{Path: "a.txt"}},
		{name: "wrong type", args: `{"limit":"three"}`, wantErr: true},
		{name: "not an object", args: `nope`, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			var got pathArgs
			err := DecodeArgs(tc.args, &got)
			if (err != nil) != tc.wantErr {
				t.Fatalf("DecodeArgs(%q) err = %v, wantErr %v", tc.args, err, tc.wantErr)
			}
			if !tc.wantErr && got != tc.want {
				t.Errorf("DecodeArgs(%q) = %+v, want %+v", tc.args, got, tc.want)
			}
		})
	}
}
