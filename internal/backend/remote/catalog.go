package remote

import (
	"context"
	"strings"

	"github.com/koustreak/bacanora/internal/errs"
	"github.com/koustreak/bacanora/internal/filestore"
	"github.com/koustreak/bacanora/internal/storage"
)

// SystemSource publishes the file service's system definitions as catalog
// records. The record carries a type only when the system id or its
// definition names one bacanora knows.
func SystemSource(client filestore.Client) storage.MetadataSource {
	return storage.MetadataFunc(func(ctx context.Context, id string) (*storage.Record, error) {
		info, err := client.System(ctx, id)
		if err != nil {
			return nil, err
		}
		if info == nil {
			return nil, errs.Newf(errs.ErrKindNotFound, "system %s not found", id)
		}
		rec := &storage.Record{
			ID:    info.ID,
			Owner: info.Owner,
			Storage: storage.StorageInfo{
				Host:     info.Storage.Host,
				Port:     info.Storage.Port,
				Protocol: info.Storage.Protocol,
				RootDir:  info.Storage.RootDir,
				HomeDir:  info.Storage.HomeDir,
			},
		}
		if d, err := storage.Classify(id); err == nil {
			rec.Type, rec.ShortName = d.Type, d.ShortName
		} else if t, err := storage.ParseSystemType(strings.ToLower(info.Type)); err == nil {
			rec.Type = t
		}
		return rec, nil
	})
}
