package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rpattn/comptrack/internal/backup"
)

const (
	sinkFile = "file"
	sinkS3   = "s3"
)

func newBackupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Export or restore a full backup of components and history",
	}
	cmd.AddCommand(newBackupExportCmd(), newBackupRestoreCmd())
	return cmd
}

func newBackupExportCmd() *cobra.Command {
	var dest string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write a backup document to the configured sink",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			sink, err := a.openSink(ctx, dest)
			if err != nil {
				return err
			}
			doc, err := a.inventory.ExportBackup(ctx)
			if err != nil {
				return err
			}
			location, err := sink.Write(ctx, backup.FileName(doc.ExportedAt), doc)
			if err != nil {
				return err
			}
			a.log.Info("backup written", "location", location, "components", len(doc.Components))
			fmt.Fprintln(cmd.OutOrStdout(), location)
			return nil
		},
	}
	cmd.Flags().StringVar(&dest, "dest", sinkFile, "backup sink: file or s3")
	return cmd
}

func newBackupRestoreCmd() *cobra.Command {
	var (
		src string
		key string
	)
	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Replace all components and history with a backup document",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			sink, err := a.openSink(ctx, src)
			if err != nil {
				return err
			}
			name := key
			if name == "" {
				if name, err = backup.Latest(ctx, sink); err != nil {
					return err
				}
			}
			doc, err := sink.Read(ctx, name)
			if err != nil {
				return err
			}
			if err := a.inventory.RestoreBackup(ctx, doc); err != nil {
				return err
			}
			a.log.Info("backup restored", "name", name, "components", len(doc.Components))
			return nil
		},
	}
	cmd.Flags().StringVar(&src, "src", sinkFile, "backup sink: file or s3")
	cmd.Flags().StringVar(&key, "key", "", "backup name to restore; defaults to the newest")
	return cmd
}

func (a *app) openSink(ctx context.Context, kind string) (backup.Sink, error) {
	switch kind {
	case sinkFile:
		return backup.NewFileSink(a.cfg.Backup.Dir, a.loc)
	case sinkS3:
		return backup.NewS3Sink(ctx, backup.S3Config{
			Bucket:    a.cfg.Backup.S3Bucket,
			Prefix:    a.cfg.Backup.S3Prefix,
			Region:    a.cfg.Backup.S3Region,
			Endpoint:  a.cfg.Backup.S3Endpoint,
			PathStyle: a.cfg.Backup.S3PathStyle,
		}, a.loc)
	}
	return nil, fmt.Errorf("unknown backup sink %q; want %s or %s", kind, sinkFile, sinkS3)
}
