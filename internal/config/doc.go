// Package config defines configuration for the ckpt-sync CLI.
//
// Configuration is layered, later sources overriding earlier ones:
//   - Built-in defaults (the v1 and v2 OpenVoice checkpoint sets)
//   - A YAML (.yaml, .yml) or JSON with comments (.json, .jsonc) file
//   - Environment variables (CKPT_SYNC_ prefix), including a .env file
//   - Command-line flags
//
// # File format
//
//	workdir: /srv/openvoice
//	timeout: 45m
//	policy: keep-going
//	max_depth: 3
//	s3:
//	  endpoint: minio.local:9000
//	  insecure: true
//	sets:
//	  - label: v2
//	    url: s3://models/checkpoints_v2_0417.zip
//	    archive_dir: checkpoints_v2
//	    target: checkpoints_v2
//	    required:
//	      - converter/checkpoint.pth
//
// A file that lists sets replaces the defaults; it does not merge with
// them.
package config
