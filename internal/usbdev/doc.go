// Package usbdev finds RTL-SDR dongles through sysfs and resets them with
// the USBDEVFS_RESET ioctl before rtl_tcp is started. A reset clears the
// LIBUSB_ERROR_BUSY state a dongle can be left in by a killed rtl_tcp.
//
// Devices are identified as "bus:device" with zero-padded numbers, the
// same form lsusb prints (e.g. "001:004").
package usbdev
