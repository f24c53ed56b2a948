package container

import "testing"

func TestGenerateMapperName(t *testing.T) {
	tests := []struct {
		name string
		path string
		want string
	}{
		{name: "typical", path: "/var/lib/skrinja/primary.img", want: "skrinja_primary_img"},
		{name: "dashes", path: "/data/my-volume.img", want: "skrinja_my_volume_img"},
		{name: "special characters dropped", path: "/tmp/vol@ume!.img", want: "skrinja_volume_img"},
		{name: "leading digit", path: "/tmp/1vault.img", want: "skrinja_1vault_img"},
		{name: "relative path", path: "primary.img", want: "skrinja_primary_img"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GenerateMapperName(tt.path); got != tt.want {
				t.Errorf("GenerateMapperName(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}
