// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

// raid presents several underlying devices as one virtual block device. Every
// request coming from the host is translated to segments of the underlying
// devices according to the scheme (striping or mirroring), split into child
// requests sharing the payload of the original one, submitted asynchronously
// and joined back, so the host sees exactly one completion per request.
//
// The package does not know how the underlying devices are opened, it only
// consumes the device.Device interface. VirtualDevice implements the
// BuseReadWriter interface and can be passed directly to the buse library.
package raid
