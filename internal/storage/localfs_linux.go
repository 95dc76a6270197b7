//go:build linux

package storage

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Superblock magics from linux/magic.h for filesystems served over the network.
var linuxNetworkMagics = map[uint32]string{
	unix.NFS_SUPER_MAGIC:  "nfs",
	unix.CIFS_SUPER_MAGIC: "cifs",
	unix.SMB_SUPER_MAGIC:  "smbfs",
	unix.SMB2_SUPER_MAGIC: "smb2",
	unix.V9FS_MAGIC:       "9p",
	unix.CEPH_SUPER_MAGIC: "ceph",
}

func filesystemType(path string) (string, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return "", fmt.Errorf("statfs %q: %w", path, err)
	}

	// f_type is 32 bits wide on every architecture; mask off sign extension.
	magic := uint32(st.Type)
	if name, ok := linuxNetworkMagics[magic]; ok {
		return name, nil
	}
	return fmt.Sprintf("0x%x", magic), nil
}
